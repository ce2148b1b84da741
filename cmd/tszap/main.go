// tszap rewrites a transport stream down to one or more selected services,
// the way the teacher's probe tool inspects one: read packets in, run them
// through a zap.Processor, write whatever comes out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/asticode/go-astikit"

	tsip "github.com/tsflux/tsip"
	"github.com/tsflux/tsip/zap"
)

var (
	ctx, cancel = context.WithCancel(context.Background())

	inputPath  = flag.String("i", "", "the input path (file path or udp://host:port)")
	outputPath = flag.String("o", "-", "the output path (file path, udp://host:port, or - for stdout)")

	selectors     = astikit.NewFlagStrings()
	audioLangs    = astikit.NewFlagStrings()
	audioPIDs     = astikit.NewFlagStrings()
	subtitleLangs = astikit.NewFlagStrings()
	subtitlePIDs  = astikit.NewFlagStrings()

	includeCAS   = flag.Bool("include-cas", false, "keep CAT/EMM PIDs in the output")
	includeEIT   = flag.Bool("include-eit", false, "keep EIT present/following and schedule events for the selected services")
	noECM        = flag.Bool("no-ecm", false, "strip CA_descriptors and their ECM PIDs instead of passing them through")
	noSubtitles  = flag.Bool("no-subtitles", false, "drop every subtitle component")
	ignoreAbsent = flag.Bool("ignore-absent", false, "tolerate a selected service disappearing from the PAT instead of aborting")
	pesOnly      = flag.Bool("pes-only", false, "keep only PES-bearing PIDs, dropping all PSI/SI output")
	stuffNull    = flag.Bool("stuff-null", false, "replace dropped packets with null (PID 0x1FFF) packets instead of discarding them")
)

func main() {
	flag.Var(selectors, "s", "a service to keep, by numeric service_id (e.g. 2) or by SDT service name (e.g. BBC One); repeatable")
	flag.Var(audioLangs, "audio-lang", "an ISO 639 language code to keep among audio components; repeatable")
	flag.Var(audioPIDs, "audio-pid", "a PID to keep among audio components; repeatable")
	flag.Var(subtitleLangs, "subtitle-lang", "an ISO 639 language code to keep among subtitle components; repeatable")
	flag.Var(subtitlePIDs, "subtitle-pid", "a PID to keep among subtitle components; repeatable")
	flag.Parse()

	handleSignals()

	if err := run(); err != nil && !errors.Is(err, io.EOF) {
		log.Fatal(fmt.Errorf("tszap: %w", err))
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

func run() error {
	sels, err := parseSelectors(selectors.Map)
	if len(sels) == 0 {
		return errors.New("use -s at least once to select a service")
	}
	if err != nil {
		return err
	}

	stuffing := zap.StuffingDrop
	if *stuffNull {
		stuffing = zap.StuffingReplaceWithNull
	}

	cfg := zap.Config{
		IncludeCAS:    *includeCAS,
		IncludeEIT:    *includeEIT,
		NoECM:         *noECM,
		NoSubtitles:   *noSubtitles,
		IgnoreAbsent:  *ignoreAbsent,
		PESOnly:       *pesOnly,
		Stuffing:      stuffing,
		AudioLangs:    mapKeys(audioLangs.Map),
		AudioPIDs:     parsePIDs(audioPIDs.Map),
		SubtitleLangs: mapKeys(subtitleLangs.Map),
		SubtitlePIDs:  parsePIDs(subtitlePIDs.Map),
	}

	proc := zap.NewProcessor(cfg, sels)

	r, err := buildReader()
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	w, err := buildWriter()
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	if c, ok := w.(io.Closer); ok {
		defer c.Close()
	}

	log.Println("zapping...")
	buf := make([]byte, tsip.PacketSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("reading packet: %w", err)
		}
		pkt, err := tsip.NewPacketFromBytes(buf)
		if err != nil {
			return fmt.Errorf("parsing packet: %w", err)
		}

		out, err := proc.Feed(ctx, pkt)
		if err != nil {
			return fmt.Errorf("zapping packet: %w", err)
		}
		if out == nil {
			continue
		}
		if _, err := w.Write(out.Bytes()); err != nil {
			return fmt.Errorf("writing packet: %w", err)
		}
	}
}

func parseSelectors(names map[string]bool) ([]zap.Selector, error) {
	var sels []zap.Selector
	for name := range names {
		if id, err := strconv.ParseUint(name, 0, 16); err == nil {
			sels = append(sels, zap.ByID(uint16(id)))
			continue
		}
		sels = append(sels, zap.ByName(name))
	}
	return sels, nil
}

func mapKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func parsePIDs(m map[string]bool) []uint16 {
	if len(m) == 0 {
		return nil
	}
	out := make([]uint16, 0, len(m))
	for k := range m {
		v, err := strconv.ParseUint(k, 0, 16)
		if err != nil {
			continue
		}
		out = append(out, uint16(v))
	}
	return out
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

func buildWriter() (io.Writer, error) {
	if *outputPath == "-" || len(*outputPath) == 0 {
		return os.Stdout, nil
	}
	u, err := url.Parse(*outputPath)
	if err != nil {
		return nil, fmt.Errorf("parsing output path: %w", err)
	}
	switch u.Scheme {
	case "udp":
		c, err := net.Dial("udp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("dialing udp addr %s: %w", u.Host, err)
		}
		return c, nil
	default:
		f, err := os.Create(*outputPath)
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", *outputPath, err)
		}
		return f, nil
	}
}
