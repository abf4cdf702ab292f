package cuseproto

// CuseInitIn is the payload of the first CUSE_INIT message.
type CuseInitIn struct {
	Major uint32
	Minor uint32
	Flags CuseInitFlags
}

// DecodeCuseInitIn consumes a cuse_init_in payload: {major, minor
// uint32; unused[2]uint32; flags uint32}.
func DecodeCuseInitIn(b *ReadBuf) (CuseInitIn, error) {
	major, err := b.ConsumeU32()
	if err != nil {
		return CuseInitIn{}, err
	}
	minor, err := b.ConsumeU32()
	if err != nil {
		return CuseInitIn{}, err
	}
	if _, err := b.Consume(8); err != nil { // unused[2]
		return CuseInitIn{}, err
	}
	flags, err := b.ConsumeU32()
	if err != nil {
		return CuseInitIn{}, err
	}
	return CuseInitIn{Major: major, Minor: minor, Flags: CuseInitFlags(flags)}, nil
}

// OpenIn is the payload of FUSE_OPEN: {flags uint32; open_flags uint32}.
type OpenIn struct {
	Flags OpenFlags
}

func DecodeOpenIn(b *ReadBuf) (OpenIn, error) {
	flags, err := b.ConsumeU32()
	if err != nil {
		return OpenIn{}, err
	}
	if _, err := b.Consume(4); err != nil { // open_flags, unused by this bridge
		return OpenIn{}, err
	}
	return OpenIn{Flags: OpenFlags(flags)}, nil
}

// ReleaseIn is the payload of FUSE_RELEASE.
type ReleaseIn struct {
	Fh         uint64
	Flags      ReleaseFlags
	LockOwner  uint64
}

func DecodeReleaseIn(b *ReadBuf) (ReleaseIn, error) {
	fh, err := b.ConsumeU64()
	if err != nil {
		return ReleaseIn{}, err
	}
	flags, err := b.ConsumeU32()
	if err != nil {
		return ReleaseIn{}, err
	}
	if _, err := b.Consume(4); err != nil { // release_flags, unused
		return ReleaseIn{}, err
	}
	lockOwner, err := b.ConsumeU64()
	if err != nil {
		return ReleaseIn{}, err
	}
	return ReleaseIn{Fh: fh, Flags: ReleaseFlags(flags), LockOwner: lockOwner}, nil
}

// ReadIn is the payload of FUSE_READ.
type ReadIn struct {
	Fh     uint64
	Offset uint64
	Size   uint32
	Flags  ReadFlags
}

func DecodeReadIn(b *ReadBuf) (ReadIn, error) {
	fh, err := b.ConsumeU64()
	if err != nil {
		return ReadIn{}, err
	}
	offset, err := b.ConsumeU64()
	if err != nil {
		return ReadIn{}, err
	}
	size, err := b.ConsumeU32()
	if err != nil {
		return ReadIn{}, err
	}
	readFlags, err := b.ConsumeU32()
	if err != nil {
		return ReadIn{}, err
	}
	if _, err := b.Consume(16); err != nil { // lock_owner, flags, padding
		return ReadIn{}, err
	}
	return ReadIn{Fh: fh, Offset: offset, Size: size, Flags: ReadFlags(readFlags)}, nil
}

// WriteIn is the fixed portion of FUSE_WRITE; the write bytes follow
// immediately in the same message and are not part of this struct: the
// caller consumes them separately via b.Consume(int(Size)).
type WriteIn struct {
	Fh     uint64
	Offset uint64
	Size   uint32
	Flags  WriteFlags
}

func DecodeWriteIn(b *ReadBuf) (WriteIn, error) {
	fh, err := b.ConsumeU64()
	if err != nil {
		return WriteIn{}, err
	}
	offset, err := b.ConsumeU64()
	if err != nil {
		return WriteIn{}, err
	}
	size, err := b.ConsumeU32()
	if err != nil {
		return WriteIn{}, err
	}
	writeFlags, err := b.ConsumeU32()
	if err != nil {
		return WriteIn{}, err
	}
	if _, err := b.Consume(16); err != nil { // lock_owner, flags, padding
		return WriteIn{}, err
	}
	return WriteIn{Fh: fh, Offset: offset, Size: size, Flags: WriteFlags(writeFlags)}, nil
}

// IoctlIn is the fixed portion of FUSE_IOCTL.
type IoctlIn struct {
	Fh      uint64
	Flags   IoctlFlags
	Cmd     uint32
	Arg     uint64
	InSize  uint32
	OutSize uint32
}

func DecodeIoctlIn(b *ReadBuf) (IoctlIn, error) {
	fh, err := b.ConsumeU64()
	if err != nil {
		return IoctlIn{}, err
	}
	flags, err := b.ConsumeU32()
	if err != nil {
		return IoctlIn{}, err
	}
	cmd, err := b.ConsumeU32()
	if err != nil {
		return IoctlIn{}, err
	}
	arg, err := b.ConsumeU64()
	if err != nil {
		return IoctlIn{}, err
	}
	inSize, err := b.ConsumeU32()
	if err != nil {
		return IoctlIn{}, err
	}
	outSize, err := b.ConsumeU32()
	if err != nil {
		return IoctlIn{}, err
	}
	return IoctlIn{Fh: fh, Flags: IoctlFlags(flags), Cmd: cmd, Arg: arg, InSize: inSize, OutSize: outSize}, nil
}

// PollIn is the payload of FUSE_POLL.
type PollIn struct {
	Fh     uint64
	Kh     uint64
	Flags  PollFlags
	Events PollEvents
}

func DecodePollIn(b *ReadBuf) (PollIn, error) {
	fh, err := b.ConsumeU64()
	if err != nil {
		return PollIn{}, err
	}
	kh, err := b.ConsumeU64()
	if err != nil {
		return PollIn{}, err
	}
	flags, err := b.ConsumeU32()
	if err != nil {
		return PollIn{}, err
	}
	events, err := b.ConsumeU32()
	if err != nil {
		return PollIn{}, err
	}
	return PollIn{Fh: fh, Kh: kh, Flags: PollFlags(flags), Events: PollEvents(events)}, nil
}

// InterruptIn is the payload of FUSE_INTERRUPT: the unique id of the
// request to cancel.
type InterruptIn struct {
	Unique uint64
}

func DecodeInterruptIn(b *ReadBuf) (InterruptIn, error) {
	unique, err := b.ConsumeU64()
	if err != nil {
		return InterruptIn{}, err
	}
	return InterruptIn{Unique: unique}, nil
}
