package cuseproto

import "strings"

// bitName pairs a single bit with the name it prints as.
type bitName struct {
	bit  uint32
	name string
}

func formatFlags(v uint32, names []bitName) string {
	if v == 0 {
		return "0"
	}
	var parts []string
	for _, bn := range names {
		if v&bn.bit != 0 {
			parts = append(parts, bn.name)
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// OpenFlags is the bit-flag taxonomy carried in fuse_open_in.flags,
// mirroring the open(2) flag bits the kernel forwards verbatim.
type OpenFlags uint32

const (
	OpenAccModeMask OpenFlags = 0x3
	OpenRDONLY      OpenFlags = 0x0
	OpenWRONLY      OpenFlags = 0x1
	OpenRDWR        OpenFlags = 0x2

	OpenCREAT     OpenFlags = 0o100
	OpenEXCL      OpenFlags = 0o200
	OpenNOCTTY    OpenFlags = 0o400
	OpenTRUNC     OpenFlags = 0o1000
	OpenAPPEND    OpenFlags = 0o2000
	OpenNONBLOCK  OpenFlags = 0o4000
	OpenDSYNC     OpenFlags = 0o10000
	OpenFASYNC    OpenFlags = 0o20000
	OpenDIRECT    OpenFlags = 0o40000
	OpenLARGEFILE OpenFlags = 0o100000
	OpenDIRECTORY OpenFlags = 0o200000
	OpenFOLLOW    OpenFlags = 0o400000
	OpenNOATIME   OpenFlags = 0o1000000
	OpenCLOEXEC   OpenFlags = 0o2000000
)

func (f OpenFlags) String() string {
	names := []bitName{
		{uint32(OpenCREAT), "CREAT"}, {uint32(OpenEXCL), "EXCL"},
		{uint32(OpenNOCTTY), "NOCTTY"}, {uint32(OpenTRUNC), "TRUNC"},
		{uint32(OpenAPPEND), "APPEND"}, {uint32(OpenNONBLOCK), "NONBLOCK"},
		{uint32(OpenDSYNC), "DSYNC"}, {uint32(OpenFASYNC), "FASYNC"},
		{uint32(OpenDIRECT), "DIRECT"}, {uint32(OpenLARGEFILE), "LARGEFILE"},
		{uint32(OpenDIRECTORY), "DIRECTORY"}, {uint32(OpenFOLLOW), "FOLLOW"},
		{uint32(OpenNOATIME), "NOATIME"}, {uint32(OpenCLOEXEC), "CLOEXEC"},
	}
	acc := "RDONLY"
	switch f & OpenAccModeMask {
	case OpenWRONLY:
		acc = "WRONLY"
	case OpenRDWR:
		acc = "RDWR"
	}
	rest := formatFlags(uint32(f&^OpenAccModeMask), names)
	if rest == "0" {
		return acc
	}
	return acc + "|" + rest
}

// IoctlFlags is the bit-flag taxonomy carried in fuse_ioctl_in.flags.
type IoctlFlags uint32

const (
	IoctlCompat       IoctlFlags = 1 << 0
	IoctlUnrestricted IoctlFlags = 1 << 1
	IoctlRetry        IoctlFlags = 1 << 2
	IoctlX32bit       IoctlFlags = 1 << 3
	IoctlDir          IoctlFlags = 1 << 4
	IoctlCompatX32    IoctlFlags = 1 << 5
)

func (f IoctlFlags) String() string {
	return formatFlags(uint32(f), []bitName{
		{uint32(IoctlCompat), "COMPAT"}, {uint32(IoctlUnrestricted), "UNRESTRICTED"},
		{uint32(IoctlRetry), "RETRY"}, {uint32(IoctlX32bit), "X32BIT"},
		{uint32(IoctlDir), "DIR"}, {uint32(IoctlCompatX32), "COMPAT_X32"},
	})
}

// PollEvents mirrors the Linux poll(2) event bitmask.
type PollEvents uint32

const (
	PollIN     PollEvents = 0x0001
	PollPRI    PollEvents = 0x0002
	PollOUT    PollEvents = 0x0004
	PollERR    PollEvents = 0x0008
	PollHUP    PollEvents = 0x0010
	PollNVAL   PollEvents = 0x0020
	PollRDNORM PollEvents = 0x0040
	PollRDBAND PollEvents = 0x0080
	PollWRNORM PollEvents = 0x0100
	PollWRBAND PollEvents = 0x0200
	PollMSG    PollEvents = 0x0400
	PollREMOVE PollEvents = 0x1000
	PollRDHUP  PollEvents = 0x2000
)

func (f PollEvents) String() string {
	return formatFlags(uint32(f), []bitName{
		{uint32(PollIN), "IN"}, {uint32(PollPRI), "PRI"}, {uint32(PollOUT), "OUT"},
		{uint32(PollERR), "ERR"}, {uint32(PollHUP), "HUP"}, {uint32(PollNVAL), "NVAL"},
		{uint32(PollRDNORM), "RDNORM"}, {uint32(PollRDBAND), "RDBAND"},
		{uint32(PollWRNORM), "WRNORM"}, {uint32(PollWRBAND), "WRBAND"},
		{uint32(PollMSG), "MSG"}, {uint32(PollREMOVE), "REMOVE"}, {uint32(PollRDHUP), "RDHUP"},
	})
}

// ReleaseFlags is the bit-flag taxonomy carried in fuse_release_in.flags.
type ReleaseFlags uint32

const (
	ReleaseFlush      ReleaseFlags = 1 << 0
	ReleaseFlockUnlock ReleaseFlags = 1 << 1
)

func (f ReleaseFlags) String() string {
	return formatFlags(uint32(f), []bitName{
		{uint32(ReleaseFlush), "FLUSH"}, {uint32(ReleaseFlockUnlock), "FLOCK_UNLOCK"},
	})
}

// WriteFlags is the bit-flag taxonomy carried in fuse_write_in.write_flags.
type WriteFlags uint32

const (
	WriteCache        WriteFlags = 1 << 0
	WriteLockowner    WriteFlags = 1 << 1
	WriteKillSuidgid  WriteFlags = 1 << 2
)

func (f WriteFlags) String() string {
	return formatFlags(uint32(f), []bitName{
		{uint32(WriteCache), "CACHE"}, {uint32(WriteLockowner), "LOCKOWNER"},
		{uint32(WriteKillSuidgid), "KILL_SUIDGID"},
	})
}

// ReadFlags is the bit-flag taxonomy carried in fuse_read_in.read_flags.
type ReadFlags uint32

const (
	ReadLockowner ReadFlags = 1 << 1
)

func (f ReadFlags) String() string {
	return formatFlags(uint32(f), []bitName{{uint32(ReadLockowner), "LOCKOWNER"}})
}

// PollFlags is the bit-flag taxonomy carried in fuse_poll_in.flags.
type PollFlags uint32

const (
	PollScheduleNotify PollFlags = 1 << 0
)

func (f PollFlags) String() string {
	return formatFlags(uint32(f), []bitName{{uint32(PollScheduleNotify), "SCHEDULE_NOTIFY"}})
}

// CuseInitFlags is the bit-flag taxonomy exchanged during CUSE_INIT.
type CuseInitFlags uint32

const (
	CuseInitUnrestrictedIoctl CuseInitFlags = 1 << 0
)

func (f CuseInitFlags) String() string {
	return formatFlags(uint32(f), []bitName{{uint32(CuseInitUnrestrictedIoctl), "UNRESTRICTED_IOCTL"}})
}
