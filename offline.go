package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

var errInvalidFrequency = errors.New("invalid frequency")

// parseFreq accepts plain Hz ("446006250") or SI notation ("446.00625M",
// "145.5MHz").
func parseFreq(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", errInvalidFrequency)
	}
	if f, err := strconv.ParseInt(s, 10, 64); err == nil {
		if f <= 0 {
			return 0, fmt.Errorf("%w: %q", errInvalidFrequency, s)
		}
		return f, nil
	}
	v, unit, err := humanize.ParseSI(s)
	if err != nil || (unit != "" && !strings.EqualFold(unit, "hz")) || v <= 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidFrequency, s)
	}
	return int64(v + 0.5), nil
}

// parseFreqRange parses "A-B". The bounds may come in either order.
func parseFreqRange(s string) (start, end int64, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: range %q is not A-B", errInvalidFrequency, s)
	}
	if start, err = parseFreq(parts[0]); err != nil {
		return 0, 0, err
	}
	if end, err = parseFreq(parts[1]); err != nil {
		return 0, 0, err
	}
	if start > end {
		start, end = end, start
	}
	return start, end, nil
}

// runOffline executes the store-only commands: import first, then the
// blacklist edits, then list and export.
func runOffline(ctx context.Context, p *persistence, cfg *config, args offlineArgs, out io.Writer) error {
	def := defaultScanSettings(cfg.Scanner.engineConfig().delayTime)
	st, err := p.loadSettings(ctx, def)
	if err != nil {
		return err
	}
	entries, err := p.loadBlacklist(ctx)
	if err != nil {
		return err
	}

	reg := newIgnoreRegistry(nil, nil, cfg.Scanner.VoiceModes, cfg.Scanner.DigitalKeywords)
	reg.replace(entries)

	if args.importPath != "" {
		data, err := os.ReadFile(args.importPath)
		if err != nil {
			return fmt.Errorf("reading import file: %w", err)
		}
		res, err := parseImport(data, st)
		if err != nil {
			return err
		}
		st = res.settings
		if err := p.saveSettings(ctx, st); err != nil {
			return err
		}
		if res.hasBlacklist {
			reg.replace(res.blacklist)
		}
		fmt.Fprintln(out, "imported", args.importPath)
	}

	if args.blockRange != "" {
		start, end, err := parseFreqRange(args.blockRange)
		if err != nil {
			return err
		}
		reg.blockRange(start, end)
		fmt.Fprintln(out, "blocked", rangeEntry(start, end))
	}

	if args.unblock != "" {
		f, err := parseFreq(args.unblock)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "removed", reg.unblock(f), "entries around", formatFreq(f))
	}

	if args.importPath != "" || args.blockRange != "" || args.unblock != "" {
		if err := p.saveBlacklist(ctx, reg.list()); err != nil {
			return fmt.Errorf("saving blacklist: %w", err)
		}
	}

	if args.list {
		list := reg.list()
		if len(list) == 0 {
			fmt.Fprintln(out, "blacklist is empty")
		}
		for _, e := range list {
			switch e.kind {
			case ignorePoint:
				fmt.Fprintf(out, "point  %d\t%s\n", e.start, e)
			case ignoreRange:
				fmt.Fprintf(out, "range  %d-%d\t%s\n", e.start, e.end, e)
			}
		}
		fmt.Fprintf(out, "scan mode %s, delay %d ms, voice only %v\n", st.ScanMode.description(), st.DelayTime, st.IgnoreNonVoice)
	}

	if args.exportPath != "" {
		data, err := exportJSON(st, reg.list())
		if err != nil {
			return err
		}
		if args.exportPath == "-" {
			_, err = out.Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(args.exportPath, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("writing export file: %w", err)
		}
		fmt.Fprintln(out, "exported to", args.exportPath)
	}
	return nil
}
