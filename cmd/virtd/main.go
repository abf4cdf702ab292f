// Command virtd is the client-side daemon of spec.md §4.4/§6: it opens
// the kernel's CUSE control endpoint, negotiates CUSE_INIT, and runs
// the dispatch loop that turns every subsequent kernel message into a
// RemoteDevice operation against --server. Grounded on
// original_source's src/ser2net-cuse.rs main loop, generalized from its
// single-opcode switch (CuseInit/FuseOpen, everything else `todo!()`)
// to the full opcode set this bridge implements.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/jacobsa/cuse2net/internal/logging"
	"github.com/jacobsa/cuse2net/internal/metrics"
	"github.com/jacobsa/cuse2net/registry"
	"github.com/jacobsa/cuse2net/virtdev"
	"github.com/jacobsa/cuse2net/wire/cuseproto"
)

// devProtoMajor/devProtoMinor are the CUSE/FUSE kernel protocol
// version this bridge speaks, not the character device's major/minor
// numbers (those come from --major/--minor). Fixed per spec.md §6.
const (
	devProtoMajor = 7
	devProtoMinor = 31
)

// cuseControlPath is the kernel's fixed CUSE control endpoint; it is
// not configurable, per spec.md §6.
const cuseControlPath = "/dev/cuse"

type options struct {
	server    string
	device    string
	major     uint32
	minor     uint32
	logFormat string
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "virtd",
		Short: "Bridge a remote tty onto a local CUSE character device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.server, "server", "", "address of the reald instance to dial (host:port)")
	flags.StringVar(&opts.device, "device", "", "character-device name registered with the kernel")
	flags.Uint32Var(&opts.major, "major", 0, "character device major number to advertise")
	flags.Uint32Var(&opts.minor, "minor", 0, "character device minor number to advertise")
	flags.StringVar(&opts.logFormat, "log-format", "compact", "log output format: compact, full, json")
	root.MarkFlagRequired("server")
	root.MarkFlagRequired("device")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// fhTable remembers which fh each forwarded kernel unique was sent
// for, so FUSE_INTERRUPT can find the device that owns a given unique
// without the kernel telling us the fh directly (it never does —
// fuse_interrupt_in carries only a unique). Entries are never removed;
// a later request reusing a unique overwrites its entry. A device's open flags
// don't need tracking here: each RemoteDevice already remembers its
// own via OpenFlags.
type fhTable struct {
	mu         sync.Mutex
	uniqueToFh map[uint64]uint64
}

func newFhTable() *fhTable {
	return &fhTable{
		uniqueToFh: make(map[uint64]uint64),
	}
}

func (t *fhTable) track(unique, fh uint64) {
	t.mu.Lock()
	t.uniqueToFh[unique] = fh
	t.mu.Unlock()
}

func (t *fhTable) fhForUnique(unique uint64) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fh, ok := t.uniqueToFh[unique]
	return fh, ok
}

func run(ctx context.Context, opts *options) error {
	logging.Init(logging.ParseFormat(opts.logFormat))
	log := logging.Get()

	fd, err := unix.Open(cuseControlPath, unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("virtd: opening %s: %w", cuseControlPath, err)
	}
	defer unix.Close(fd)

	endpoint := os.NewFile(uintptr(fd), cuseControlPath)
	defer endpoint.Close()

	reg := registry.New()
	fhs := newFhTable()
	buf := cuseproto.NewReadBuf()

	log.Info().Str("device", opts.device).Str("server", opts.server).Msg("virtd starting")

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.Read(fd, buf.Raw())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("virtd: reading control endpoint: %w", err)
		}
		buf.SetLength(n)

		hdr, err := buf.Header()
		if err != nil {
			log.Error().Err(err).Msg("malformed kernel header, dropping message")
			continue
		}
		if err := buf.Truncate(int(hdr.Len) - cuseproto.InHeaderSize); err != nil {
			log.Error().Err(err).Msg("kernel header length inconsistent, dropping message")
			continue
		}

		dispatch(ctx, endpoint, reg, fhs, opts, hdr, buf, log)
	}
}

func dispatch(ctx context.Context, endpoint *os.File, reg *registry.Registry, fhs *fhTable, opts *options, hdr cuseproto.InHeader, buf *cuseproto.ReadBuf, log *zerolog.Logger) {
	op := cuseproto.DecodeOpcode(hdr.Opcode)

	switch op {
	case cuseproto.OpCuseInit:
		handleCuseInit(endpoint, buf, hdr, opts, log)

	case cuseproto.OpOpen:
		in, err := cuseproto.DecodeOpenIn(buf)
		if err != nil {
			log.Error().Err(err).Msg("malformed fuse_open_in")
			return
		}
		go virtdev.HandleOpen(ctx, endpoint, reg, opts.server, hdr.Unique, uint32(in.Flags))

	case cuseproto.OpRelease:
		in, err := cuseproto.DecodeReleaseIn(buf)
		if err != nil {
			log.Error().Err(err).Msg("malformed fuse_release_in")
			return
		}
		reg.ForFh(in.Fh, func(d registry.Device) {
			rd := d.(*virtdev.RemoteDevice)
			if err := rd.Release(); err != nil {
				log.Warn().Err(err).Uint64("fh", in.Fh).Msg("failed to forward release")
			}
		})
		if err := cuseproto.SendResponse(endpoint, hdr.Unique); err != nil {
			log.Error().Err(err).Msg("failed to ack fuse_release")
		}

	case cuseproto.OpRead:
		in, err := cuseproto.DecodeReadIn(buf)
		if err != nil {
			log.Error().Err(err).Msg("malformed fuse_read_in")
			return
		}
		fhs.track(hdr.Unique, in.Fh)
		reg.ForFh(in.Fh, func(d registry.Device) {
			rd := d.(*virtdev.RemoteDevice)
			if err := rd.Read(hdr.Unique, in.Offset, in.Size, rd.OpenFlags()); err != nil {
				log.Warn().Err(err).Uint64("fh", in.Fh).Msg("failed to forward read")
			}
		})

	case cuseproto.OpWrite:
		in, err := cuseproto.DecodeWriteIn(buf)
		if err != nil {
			log.Error().Err(err).Msg("malformed fuse_write_in")
			return
		}
		data, err := buf.Consume(int(in.Size))
		if err != nil {
			log.Error().Err(err).Msg("fuse_write_in payload shorter than advertised")
			return
		}
		fhs.track(hdr.Unique, in.Fh)
		reg.ForFh(in.Fh, func(d registry.Device) {
			rd := d.(*virtdev.RemoteDevice)
			if err := rd.Write(hdr.Unique, in.Offset, rd.OpenFlags(), data); err != nil {
				log.Warn().Err(err).Uint64("fh", in.Fh).Msg("failed to forward write")
			}
		})

	case cuseproto.OpIoctl:
		in, err := cuseproto.DecodeIoctlIn(buf)
		if err != nil {
			log.Error().Err(err).Msg("malformed fuse_ioctl_in")
			return
		}
		argBuf, err := buf.Consume(int(in.InSize))
		if err != nil {
			log.Error().Err(err).Msg("fuse_ioctl_in payload shorter than advertised")
			return
		}
		fhs.track(hdr.Unique, in.Fh)
		reg.ForFh(in.Fh, func(d registry.Device) {
			rd := d.(*virtdev.RemoteDevice)
			if err := rd.Ioctl(endpoint, hdr.Unique, in, argBuf); err != nil {
				log.Warn().Err(err).Uint64("fh", in.Fh).Msg("failed to forward ioctl")
			}
		})

	case cuseproto.OpPoll:
		in, err := cuseproto.DecodePollIn(buf)
		if err != nil {
			log.Error().Err(err).Msg("malformed fuse_poll_in")
			return
		}
		fhs.track(hdr.Unique, in.Fh)
		reg.ForFh(in.Fh, func(d registry.Device) {
			rd := d.(*virtdev.RemoteDevice)
			if err := rd.Poll(hdr.Unique, in.Kh, uint32(in.Flags), uint32(in.Events)); err != nil {
				log.Warn().Err(err).Uint64("fh", in.Fh).Msg("failed to forward poll")
			}
		})

	case cuseproto.OpInterrupt:
		in, err := cuseproto.DecodeInterruptIn(buf)
		if err != nil {
			log.Error().Err(err).Msg("malformed fuse_interrupt_in")
			return
		}
		fh, ok := fhs.fhForUnique(in.Unique)
		if !ok {
			return
		}
		reg.ForFh(fh, func(d registry.Device) {
			rd := d.(*virtdev.RemoteDevice)
			if err := rd.InterruptByUnique(in.Unique); err != nil {
				log.Warn().Err(err).Uint64("fh", fh).Msg("failed to forward interrupt")
			}
		})

	default:
		log.Warn().Uint32("opcode", hdr.Opcode).Msg("unrecognized kernel opcode")
		if err := cuseproto.SendError(endpoint, hdr.Unique, syscall.ENOSYS); err != nil {
			log.Error().Err(err).Msg("failed to reply ENOSYS")
		}
	}
}

func handleCuseInit(endpoint *os.File, buf *cuseproto.ReadBuf, hdr cuseproto.InHeader, opts *options, log *zerolog.Logger) {
	in, err := cuseproto.DecodeCuseInitIn(buf)
	if err != nil {
		log.Error().Err(err).Msg("malformed cuse_init_in")
		return
	}

	out := cuseproto.CuseInitOut{
		Major:    devProtoMajor,
		Minor:    devProtoMinor,
		Flags:    in.Flags,
		MaxRead:  cuseproto.MinReadBuf,
		MaxWrite: cuseproto.MinReadBuf - 4096,
		DevMajor: opts.major,
		DevMinor: opts.minor,
	}

	if err := cuseproto.SendResponse(endpoint, hdr.Unique, out.Encode(opts.device)); err != nil {
		log.Error().Err(err).Msg("failed to reply cuse_init_out")
		return
	}

	metrics.RequestsTotal.WithLabelValues("CuseInit").Inc()
	log.Info().Uint32("major", opts.major).Uint32("minor", opts.minor).Msg("cuse init complete")
}
