package kernel

import "strconv"

// Errno is the error value returned to user tasks by the syscall layer. The
// numeric values follow the Linux/newlib convention so user-space C code can
// compare against <errno.h>.
type Errno int32

// nolint
const (
	ENOENT Errno = 2
	E2BIG  Errno = 7
	EBADF  Errno = 9
	ENOMEM Errno = 12
	EFAULT Errno = 14
	EINVAL Errno = 22
	EMFILE Errno = 24
	ENOSYS Errno = 38
)

var errnoNames = map[Errno]string{
	0:      "success",
	ENOENT: "no such file or directory",
	E2BIG:  "argument list too long",
	EBADF:  "bad file descriptor",
	ENOMEM: "cannot allocate memory",
	EFAULT: "bad address",
	EINVAL: "invalid argument",
	EMFILE: "too many open files",
	ENOSYS: "function not implemented",
}

// String returns a human readable description of the errno value.
func (e Errno) String() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return "errno " + strconv.Itoa(int(e))
}
