package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"golang.org/x/crypto/ssh/terminal"
)

// Colors allowed for the blocked entries counter.
var blockColors = map[string]color.Attribute{
	"red":     color.FgHiRed,
	"yellow":  color.FgHiYellow,
	"green":   color.FgHiGreen,
	"blue":    color.FgHiBlue,
	"magenta": color.FgHiMagenta,
	"cyan":    color.FgHiCyan,
	"white":   color.FgHiWhite,
}

type statusLogData struct {
	line1 string
	line2 string
	line3 string

	frequency int64
	mode      string
	dataMode  string
	filter    string
	sql       string
	s         string
	ts        string
	scope     string

	startTime time.Time
}

type statusLogStruct struct {
	ticker           *time.Ticker
	stopChan         chan bool
	stopFinishedChan chan bool
	mutex            sync.Mutex

	scanner *scanner
	ignore  *ignoreRegistry

	preGenerated struct {
		rxColor      *color.Color
		holdColor    *color.Color
		rangeColor   *color.Color
		disabledText string

		stateStr struct {
			idle string
			scan string
			hold string
			na   string
		}
	}

	data *statusLogData
}

type termAspects struct {
	cols        int
	rows        int
	cursorUp    string
	cursorDown  string
	eraseLine   string
	eraseScreen string
}

var statusLog statusLogStruct
var termDetail = termAspects{
	cursorUp:    fmt.Sprintf("%c[1A", 0x1b),
	cursorDown:  fmt.Sprintf("%c[1B", 0x1b),
	eraseLine:   fmt.Sprintf("%c[2K", 0x1b),
	eraseScreen: fmt.Sprintf("%c[2J", 0x1b),
}

func (s *statusLogStruct) reportFrequency(f int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.data == nil {
		return
	}
	s.data.frequency = f
}

func (s *statusLogStruct) reportMode(mode string, dataMode bool, filter string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.data == nil {
		return
	}
	s.data.mode = mode
	if dataMode {
		s.data.dataMode = "-D"
	} else {
		s.data.dataMode = ""
	}
	s.data.filter = filter
}

func (s *statusLogStruct) reportS(sValue string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.data == nil {
		return
	}
	s.data.s = sValue
}

func (s *statusLogStruct) reportTuningStep(ts int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.data == nil {
		return
	}
	if ts == 0 {
		s.data.ts = ""
		return
	}
	s.data.ts = "TS: "
	if ts >= 1000 {
		if ts%1000 == 0 {
			s.data.ts += fmt.Sprintf("%.0fk", float64(ts)/1000)
		} else if ts%100 == 0 {
			s.data.ts += fmt.Sprintf("%.1fk", float64(ts)/1000)
		} else {
			s.data.ts += fmt.Sprintf("%.2fk", float64(ts)/1000)
		}
	} else {
		s.data.ts += fmt.Sprint(ts)
	}
}

// convert int value 0 - 255 to a floating point percentage
func asPercentage(level int) (pct float64) {
	pct = 100.00 * (float64(level) / 0xff)
	return
}

func (s *statusLogStruct) reportSQL(level int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.data == nil {
		return
	}
	s.data.sql = fmt.Sprintf("%3.1f%%", asPercentage(level))
}

func (s *statusLogStruct) reportScope(low, high int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.data == nil {
		return
	}
	s.data.scope = fmt.Sprintf("%.3f-%.3f", float64(low)/1000000, float64(high)/1000000)
}

// clears the entire line the cursor is located on
func (s *statusLogStruct) clearStatusLine() {
	fmt.Print(termDetail.eraseLine)
}

// prints the status lines and moves the cursor back to the first one when
// running in a terminal, otherwise only the scanner line goes to the log
func (s *statusLogStruct) print() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.data == nil {
		return
	}
	if s.isRealtimeInternal() {
		s.clearStatusLine()
		fmt.Println(s.data.line1)
		s.clearStatusLine()
		fmt.Println(s.data.line2)
		s.clearStatusLine()
		fmt.Printf(s.data.line3+"%v%v", termDetail.cursorUp, termDetail.cursorUp)
	} else {
		log.PrintStatusLog(s.data.line1)
	}
}

func (s *statusLogStruct) padLeft(str string, length int) string {
	if !s.isRealtimeInternal() {
		return str
	}
	if length-len(str) > 0 {
		str = strings.Repeat(" ", length-len(str)) + str
	}
	return str
}

func (s *statusLogStruct) padRight(str string, length int) string {
	if !s.isRealtimeInternal() {
		return str
	}
	if length-len(str) > 0 {
		str += strings.Repeat(" ", length-len(str))
	}
	return str
}

func (s *statusLogStruct) stateString(st scanStatus) string {
	switch {
	case !st.available:
		return s.preGenerated.stateStr.na
	case !st.running:
		return s.preGenerated.stateStr.idle
	case st.phase == phaseHoldingSignal:
		return s.preGenerated.stateStr.hold
	}
	return s.preGenerated.stateStr.scan
}

// must be called without s.mutex held, the registry may log while locked
func (s *statusLogStruct) blockedString(st scanStatus) string {
	if s.ignore == nil || s.preGenerated.rangeColor == nil {
		return ""
	}
	points, ranges := s.ignore.counts()
	attr, ok := blockColors[st.display.blockColor]
	if !ok {
		attr = blockColors[defaultBlockColor]
	}
	str := color.New(attr).Sprintf(" blk %d/%d", points, ranges)

	if st.display.showBlockedRanges {
		var rs []string
		for _, e := range s.ignore.list() {
			if e.kind == ignoreRange {
				rs = append(rs, fmt.Sprintf("%.3f-%.3f", float64(e.start)/1000000, float64(e.end)/1000000))
			}
		}
		if len(rs) > 0 {
			str += " " + s.preGenerated.rangeColor.Sprint(strings.Join(rs, " "))
		}
	}
	return str
}

// regenerate the status lines from the current radio and scanner state
func (s *statusLogStruct) update() {
	var st scanStatus
	if s.scanner != nil {
		st = s.scanner.status()
	}
	blockedStr := s.blockedString(st)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.data == nil {
		return
	}

	var (
		filterStr string
		sqlStr    string
		tsStr     string
		modeStr   string
		scopeStr  string
		nvStr     string
		spanStr   string
	)

	if st.ignoreNonVoice {
		nvStr = " voice-only"
	} else {
		nvStr = s.preGenerated.disabledText
	}
	delay := st.delay
	if st.mode == modeSample10s {
		delay = sampleDuration
	}
	s.data.line1 = fmt.Sprint(s.stateString(st), " ", s.padRight(st.mode.description(), 14),
		" delay ", delay.Seconds(), "s sq ", fmt.Sprintf("%.0fdB", st.squelch), nvStr, blockedStr)

	if s.data.filter != "" {
		filterStr = " " + s.data.filter
	}
	if s.data.sql != "" {
		sqlStr = " sql " + s.data.sql
	}
	if s.data.ts != "" {
		tsStr = " " + s.data.ts
	}
	if s.data.mode != "" {
		modeStr = " " + s.data.mode + s.data.dataMode
	}
	if s.data.scope != "" {
		scopeStr = " scope " + s.data.scope
	}
	var sStr string
	if len(s.data.s) <= 2 {
		sStr = s.preGenerated.rxColor.Sprintf("  %v ", s.padRight(s.data.s, 4))
	} else {
		sStr = s.preGenerated.rxColor.Sprintf(" %v ", s.padRight(s.data.s, 5))
	}
	s.data.line2 = fmt.Sprint(sStr, " ", fmt.Sprintf("%.6f", float64(s.data.frequency)/1000000),
		tsStr, modeStr, filterStr, sqlStr, scopeStr)

	if st.running {
		spanStr = fmt.Sprintf(" span %.6f-%.6f", float64(st.startFreq)/1000000, float64(st.endFreq)/1000000)
		if len(st.session) >= 8 {
			spanStr += " session " + st.session[:8]
		}
	}
	s.data.line3 = fmt.Sprint(" [", s.padRight(st.phase.String(), 10), "]", spanStr,
		"  - uptime: ", s.padLeft(fmt.Sprint(time.Since(s.data.startTime).Round(time.Second)), 6),
		"\r")

	if s.isRealtimeInternal() {
		t := time.Now().Format("2006-01-02T15:04:05 Z0700")
		s.data.line1 = fmt.Sprint(t, " ", s.data.line1)
		s.data.line2 = fmt.Sprint(t, " ", s.data.line2)
		s.data.line3 = fmt.Sprint(t, " ", s.data.line3)
	}
}

func (s *statusLogStruct) loop() {
	for {
		select {
		case <-s.ticker.C:
			s.update()
			s.print()
		case <-s.stopChan:
			s.stopFinishedChan <- true
			return
		}
	}
}

// true when the status lines are drawn in an interactive terminal
func (s *statusLogStruct) isRealtimeInternal() bool {
	return keyboard.isInitialized()
}

func (s *statusLogStruct) isRealtime() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.ticker != nil && s.isRealtimeInternal()
}

func (s *statusLogStruct) isActive() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.ticker != nil
}

func (s *statusLogStruct) startPeriodicPrint(sc *scanner, ignore *ignoreRegistry) {
	s.mutex.Lock()

	kbErr := s.initIfNeeded()

	s.scanner = sc
	s.ignore = ignore
	s.data = &statusLogData{
		s:         "S0",
		startTime: time.Now(),
	}

	s.stopChan = make(chan bool)
	s.stopFinishedChan = make(chan bool)
	s.ticker = time.NewTicker(statusLogInterval)
	go s.loop()
	s.mutex.Unlock()

	if kbErr != nil {
		log.Print("hotkeys disabled: ", kbErr)
	}
}

// stops the ticker and clears the status lines from the terminal
func (s *statusLogStruct) stopPeriodicPrint() {
	if !s.isActive() {
		return
	}
	s.mutex.Lock()
	s.ticker.Stop()
	s.mutex.Unlock()

	s.stopChan <- true
	<-s.stopFinishedChan

	s.mutex.Lock()
	s.ticker = nil
	s.mutex.Unlock()

	if s.isRealtimeInternal() {
		statusRows := 3
		for i := 0; i < statusRows; i++ {
			s.clearStatusLine()
			fmt.Println()
		}
	}
}

func (s *statusLogStruct) initIfNeeded() (kbErr error) {
	if s.data != nil { // Already initialized?
		return nil
	}

	if quietLog || !isatty.IsTerminal(os.Stdin.Fd()) || !isatty.IsTerminal(os.Stdout.Fd()) {
		if statusLogInterval < time.Second {
			statusLogInterval = time.Second
		}
	} else {
		kbErr = keyboard.init()
	}

	cols, rows, err := terminal.GetSize(int(os.Stdout.Fd()))
	if err == nil {
		termDetail.cols = cols
		termDetail.rows = rows
	} else {
		termDetail.cols = 120
		termDetail.rows = 20
	}

	if s.isRealtimeInternal() && termDetail.rows > 10 {
		vertWhitespace := strings.Repeat(termDetail.cursorDown, termDetail.rows-10)
		fmt.Printf("%v%v", termDetail.eraseScreen, vertWhitespace)
	}

	s.preGenerated.rxColor = color.New(color.FgHiWhite)
	s.preGenerated.rxColor.Add(color.BgGreen)

	c := color.New(color.FgHiWhite)
	c.Add(color.BgWhite)
	s.preGenerated.stateStr.idle = c.Sprint(" IDLE ")

	c = color.New(color.FgHiWhite)
	c.Add(color.BgBlue)
	s.preGenerated.stateStr.scan = c.Sprint(" SCAN ")

	s.preGenerated.holdColor = color.New(color.FgHiWhite, color.BlinkRapid)
	s.preGenerated.holdColor.Add(color.BgRed)
	s.preGenerated.stateStr.hold = s.preGenerated.holdColor.Sprint(" HOLD ")

	c = color.New(color.FgHiBlack)
	c.Add(color.BgWhite)
	s.preGenerated.stateStr.na = c.Sprint(" N/A  ")

	s.preGenerated.disabledText = color.New(color.FgHiBlack).Sprint(" all-modes")
	s.preGenerated.rangeColor = color.New(color.FgHiMagenta)
	return kbErr
}
