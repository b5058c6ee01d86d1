// Package process starts the backend as the leader of its own process group
// and terminates that group as a unit.
//
// On Unix the child is placed in a new process group (Setpgid) and Kill
// delivers SIGKILL to the negative process-group id, which reaches every
// process the backend forked unless one of them moved itself to another
// group. On Windows there are no process groups; the child is started inside
// a Job Object created with kill-on-close, and Kill closes the job, which the
// kernel turns into termination of every process assigned to it.
package process
