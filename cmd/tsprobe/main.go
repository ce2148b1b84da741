// tsprobe inspects a transport stream, printing either raw packet headers,
// every PSI/SI table it carries, or a final aggregated program/PID report,
// depending on the subcommand given.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/asticode/go-astikit"
	"github.com/pkg/profile"

	tsip "github.com/tsflux/tsip"
	"github.com/tsflux/tsip/analyzer"
	"github.com/tsflux/tsip/demux"
	"github.com/tsflux/tsip/tables"
)

var (
	ctx, cancel     = context.WithCancel(context.Background())
	cpuProfiling    = flag.Bool("cp", false, "if yes, cpu profiling is enabled")
	dataTypes       = astikit.NewFlagStrings()
	format          = flag.String("f", "", "the format")
	inputPath       = flag.String("i", "", "the input path")
	memoryProfiling = flag.Bool("mp", false, "if yes, memory profiling is enabled")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s <data|packets|default>:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Var(dataTypes, "d", "the table whitelist (all, pat, pmt, cat, sdt, eit, nit, tot)")
	cmd := astikit.FlagCmd()
	flag.Parse()

	handleSignals()

	if *cpuProfiling {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	} else if *memoryProfiling {
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	}

	r, err := buildReader()
	if err != nil {
		log.Fatal(fmt.Errorf("tsprobe: opening input failed: %w", err))
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	switch cmd {
	case "data":
		err = runData(r)
	case "packets":
		err = runPackets(r)
	default:
		err = runReport(r)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		log.Fatal(fmt.Errorf("tsprobe: %w", err))
	}
}

func handleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch)
	go func() {
		for s := range ch {
			if s != syscall.SIGURG {
				log.Printf("received signal %s\n", s)
			}
			switch s {
			case syscall.SIGABRT, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM:
				cancel()
				return
			}
		}
	}()
}

func buildReader() (io.Reader, error) {
	if len(*inputPath) == 0 {
		return nil, errors.New("use -i to indicate an input path")
	}
	u, err := url.Parse(*inputPath)
	if err != nil {
		return nil, fmt.Errorf("parsing input path: %w", err)
	}

	switch u.Scheme {
	case "udp":
		addr, err := net.ResolveUDPAddr("udp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("resolving udp addr %s: %w", u.Host, err)
		}
		c, err := net.ListenMulticastUDP("udp", nil, addr)
		if err != nil {
			return nil, fmt.Errorf("listening on multicast udp addr %s: %w", u.Host, err)
		}
		c.SetReadBuffer(1 << 20)
		return c, nil
	default:
		f, err := os.Open(*inputPath)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", *inputPath, err)
		}
		return f, nil
	}
}

// readPacket reads one 188-byte transport packet.
func readPacket(r io.Reader) (*tsip.Packet, error) {
	buf := make([]byte, tsip.PacketSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return tsip.NewPacketFromBytes(buf)
}

func runPackets(r io.Reader) error {
	log.Println("fetching packets...")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, err := readPacket(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading packet: %w", err)
		}
		log.Printf("PKT: pid=%#x cc=%d pusi=%t adaptation=%t payload=%t scrambling=%d\n",
			pkt.PID(), pkt.ContinuityCounter(), pkt.PayloadUnitStartIndicator(),
			pkt.HasAdaptationField(), pkt.HasPayload(), pkt.ScramblingControl())
	}
}

// runData dumps every PSI/SI table seen, restricted to -d's whitelist.
func runData(r io.Reader) error {
	want := dataTypes.Map
	show := func(name string) bool {
		if len(want) == 0 {
			return true
		}
		if _, ok := want["all"]; ok {
			return true
		}
		_, ok := want[name]
		return ok
	}

	var d *demux.SectionDemux
	d = demux.NewSectionDemux(demux.WithTableHandler(func(t *tsip.BinaryTable) {
		switch t.TableID() {
		case tables.TIDPat:
			pat, err := tables.DeserializePAT(t)
			if err != nil {
				return
			}
			// A PMT's PID is only known once its PAT is seen: extend the
			// filter live as new program_map_PIDs are discovered.
			for _, prog := range pat.Programs {
				d.AddPID(prog.ProgramMapPID)
			}
			if show("pat") {
				pat.Display(os.Stdout)
			}
		case tables.TIDCat:
			if !show("cat") {
				return
			}
			if cat, err := tables.DeserializeCAT(t); err == nil {
				cat.Display(os.Stdout)
			}
		case tables.TIDPmt:
			if !show("pmt") {
				return
			}
			if pmt, err := tables.DeserializePMT(t); err == nil {
				pmt.Display(os.Stdout)
			}
		case tables.TIDSdtActual, tables.TIDSdtOther:
			if !show("sdt") {
				return
			}
			if sdt, err := tables.DeserializeSDT(t); err == nil {
				sdt.Display(os.Stdout)
			}
		case tables.TIDNitActual, tables.TIDNitOther:
			if !show("nit") {
				return
			}
			if nit, err := tables.DeserializeNIT(t); err == nil {
				nit.Display(os.Stdout)
			}
		case tables.TIDTdt:
			if !show("tot") {
				return
			}
			if tdt, err := tables.DeserializeTDT(t); err == nil {
				tdt.Display(os.Stdout)
			}
		case tables.TIDTot:
			if !show("tot") {
				return
			}
			if tot, err := tables.DeserializeTOT(t); err == nil {
				tot.Display(os.Stdout)
			}
		default:
			if !tables.IsPresentFollowing(t.TableID()) && !tables.IsSchedule(t.TableID()) {
				return
			}
			if !show("eit") {
				return
			}
			if eit, err := tables.DeserializeEIT(t); err == nil {
				eit.Display(os.Stdout)
			}
		}
	}))
	for _, pid := range []uint16{0x0000, 0x0001, 0x0010, 0x0011, 0x0012, 0x0014} {
		d.AddPID(pid)
	}

	log.Println("fetching data...")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, err := readPacket(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading packet: %w", err)
		}
		d.Push(pkt)
	}
}

func runReport(r io.Reader) error {
	a := analyzer.NewAnalyzer()

	log.Println("analyzing stream...")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pkt, err := readPacket(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("reading packet: %w", err)
		}
		a.Feed(pkt)
	}

	rep := a.Report()
	switch *format {
	case "json":
		e := json.NewEncoder(os.Stdout)
		e.SetIndent("", "  ")
		return e.Encode(rep)
	default:
		fmt.Printf("Transport stream\n")
		if rep.TransportStreamID != nil {
			fmt.Printf("  transport_stream_id: %#x\n", *rep.TransportStreamID)
		}
		fmt.Printf("  bitrate: %.0f bps\n", rep.TSBitrateMean)
		fmt.Println("Services:")
		for _, s := range rep.Services {
			fmt.Printf("  * service_id=%d pmt_pid=%#x pcr_pid=%#x pids=%v\n", s.ServiceID, s.PMTPID, s.PCRPID, s.PIDs)
		}
	}
	return nil
}
