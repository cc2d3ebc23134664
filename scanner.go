package main

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

const (
	defaultStepSize         = 12500
	defaultDwellTime        = 100 * time.Millisecond
	defaultDelayTime        = 2500 * time.Millisecond
	defaultSquelchThreshold = -45.0

	spanFraction          = 0.9
	fallbackBandwidth     = 1000000
	minSkipStep           = 12500
	maxAdvanceIterations  = 1000
	bandChangeTolerance   = 100 // Hz
	manualRetuneTolerance = 10  // Hz
	ignoredRetryDelay     = 5 * time.Millisecond
	recheckDelay          = 200 * time.Millisecond
	sampleDuration        = 10 * time.Second
)

var delayChoices = []time.Duration{2500 * time.Millisecond, 5 * time.Second, 10 * time.Second}

// Only these modulations carry something worth stopping on.
var scannableModulations = map[string]bool{"am": true, "fm": true, "nfm": true}

var (
	errScannerUnavailable = errors.New("scanner unavailable in current modulation")
	errNoCenterFrequency  = errors.New("center frequency unknown")
)

type scanMode int

const (
	modeCarrier scanMode = iota
	modeStopOnSignal
	modeSample10s
)

func (m scanMode) String() string {
	switch m {
	case modeCarrier:
		return "CARRIER"
	case modeStopOnSignal:
		return "STOP"
	case modeSample10s:
		return "SAMPLE_10S"
	}
	return fmt.Sprintf("scanMode(%d)", int(m))
}

func (m scanMode) description() string {
	switch m {
	case modeCarrier:
		return "carrier"
	case modeStopOnSignal:
		return "stop on signal"
	case modeSample10s:
		return "10s sample"
	}
	return m.String()
}

func parseScanMode(s string) (scanMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CARRIER":
		return modeCarrier, nil
	case "STOP", "STOP_ON_SIGNAL":
		return modeStopOnSignal, nil
	case "SAMPLE_10S":
		return modeSample10s, nil
	}
	return modeCarrier, fmt.Errorf("unknown scan mode %q", s)
}

func (m scanMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *scanMode) UnmarshalText(text []byte) error {
	v, err := parseScanMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

type scanPhase int

const (
	phaseIdle scanPhase = iota
	phaseTuning
	phaseEvaluating
	phaseHoldingSignal
	phaseAdvancing
)

func (p scanPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseTuning:
		return "tuning"
	case phaseEvaluating:
		return "evaluating"
	case phaseHoldingSignal:
		return "holding"
	case phaseAdvancing:
		return "advancing"
	}
	return fmt.Sprintf("scanPhase(%d)", int(p))
}

type engineConfig struct {
	stepSize         int64
	dwellTime        time.Duration
	delayTime        time.Duration
	squelchThreshold float64
}

// spectrumSource is the receiver as seen by the scanner. The ok results are
// false while the value is not known yet.
type spectrumSource interface {
	CenterFrequency() (int64, bool)
	Bandwidth() (int64, bool)
	TuningStep() (int64, bool)
	// SignalLevel is the live signal power, linear (mW).
	SignalLevel() (float64, bool)
	Snapshot() spectrumSnapshot
}

type tuningPort interface {
	SetFrequency(f int64) error
	Frequency() (int64, bool)
}

type scanState struct {
	running bool
	phase   scanPhase
	mode    scanMode

	currentFreq        int64
	startFreq          int64
	endFreq            int64
	originalCenterFreq int64

	lastSignalTime  time.Time
	signalStartTime time.Time
}

type displaySettings struct {
	showBlockedRanges bool
	blockColor        string
}

type scanStatus struct {
	running        bool
	available      bool
	phase          scanPhase
	mode           scanMode
	modulation     string
	freq           int64
	startFreq      int64
	endFreq        int64
	delay          time.Duration
	squelch        float64
	ignoreNonVoice bool
	session        string
	display        displaySettings
}

type scanner struct {
	mutex sync.Mutex

	clock    clock
	spectrum spectrumSource
	port     tuningPort
	ignore   *ignoreRegistry
	cfg      engineConfig
	display  displaySettings

	state    scanState
	timer    clockTimer
	timerGen uint64

	modulation string
	available  bool
	session    string

	// start of a range marked with markRange, 0 when none
	rangeMark int64

	// called after a user changed a persisted setting
	onSettingsChange func(scanSettings)
}

func newScanner(clk clock, spectrum spectrumSource, port tuningPort, ignore *ignoreRegistry, cfg engineConfig) *scanner {
	if cfg.stepSize <= 0 {
		cfg.stepSize = defaultStepSize
	}
	if cfg.dwellTime <= 0 {
		cfg.dwellTime = defaultDwellTime
	}
	return &scanner{
		clock:     clk,
		spectrum:  spectrum,
		port:      port,
		ignore:    ignore,
		cfg:       cfg,
		available: true,
		display:   displaySettings{blockColor: defaultBlockColor},
	}
}

func formatFreq(f int64) string {
	return humanize.SIWithDigits(float64(f), 6, "Hz")
}

func (s *scanner) logPrefix() string {
	if len(s.session) >= 8 {
		return "[" + s.session[:8] + "] "
	}
	return ""
}

func (s *scanner) start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state.running {
		return nil
	}
	if !s.available {
		log.Print("scanner is not available in ", s.modulation, " mode")
		return errScannerUnavailable
	}

	center, ok := s.spectrum.CenterFrequency()
	if !ok {
		log.Error("can't start scanning: center frequency not found")
		return errNoCenterFrequency
	}
	bw, ok := s.spectrum.Bandwidth()
	if !ok || bw <= 0 {
		log.Warn("bandwidth not found, using fallback of ", formatFreq(fallbackBandwidth))
		bw = fallbackBandwidth
	}

	half := int64(math.Round(float64(bw) * spanFraction / 2))
	s.session = uuid.NewString()
	s.state = scanState{
		running:            true,
		phase:              phaseTuning,
		mode:               s.state.mode,
		currentFreq:        center - half,
		startFreq:          center - half,
		endFreq:            center + half,
		originalCenterFreq: center,
	}

	log.Print(s.logPrefix(), "scanning ", formatFreq(s.state.startFreq), " - ", formatFreq(s.state.endFreq),
		" (", s.state.mode.description(), ")")
	s.tick()
	return nil
}

func (s *scanner) stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stopLocked()
}

func (s *scanner) stopLocked() {
	s.cancelTimer()
	if !s.state.running {
		return
	}
	s.state.running = false
	s.state.phase = phaseIdle
	log.Print(s.logPrefix(), "scan stopped at ", formatFreq(s.state.currentFreq))
}

func (s *scanner) toggle() {
	s.mutex.Lock()
	running := s.state.running
	s.mutex.Unlock()

	if running {
		s.stop()
		return
	}
	_ = s.start()
}

func (s *scanner) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

// schedule replaces the pending callback with fn. A callback that lost the
// race against a cancel finds a different generation and does nothing.
func (s *scanner) schedule(d time.Duration, fn func()) {
	s.cancelTimer()
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(d, func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		if gen != s.timerGen || !s.state.running {
			return
		}
		s.timer = nil
		fn()
	})
}

func (s *scanner) tune(f int64) bool {
	if err := s.port.SetFrequency(f); err != nil {
		log.Error(s.logPrefix(), "can't tune to ", formatFreq(f), ": ", err)
		s.stopLocked()
		return false
	}
	return true
}

func (s *scanner) tick() {
	if !s.state.running {
		return
	}

	if center, ok := s.spectrum.CenterFrequency(); ok && abs64(center-s.state.originalCenterFreq) > bandChangeTolerance {
		log.Print(s.logPrefix(), "center frequency changed to ", formatFreq(center), ", stopping")
		s.stopLocked()
		return
	}

	if s.ignore.isIgnored(s.state.currentFreq) {
		s.state.phase = phaseAdvancing
		s.advance(false)
		s.schedule(ignoredRetryDelay, s.tick)
		return
	}

	s.state.phase = phaseTuning
	if !s.tune(s.state.currentFreq) {
		return
	}
	s.schedule(s.cfg.dwellTime, s.evaluate)
}

func (s *scanner) hasSignal() bool {
	level, ok := s.spectrum.SignalLevel()
	if !ok || level <= 0 {
		return false
	}
	return 10*math.Log10(level) >= s.cfg.squelchThreshold
}

func (s *scanner) evaluate() {
	s.state.phase = phaseEvaluating
	now := s.clock.Now()

	if s.hasSignal() {
		s.fineTune()
		if !s.state.running {
			return
		}

		switch s.state.mode {
		case modeStopOnSignal:
			log.Print(s.logPrefix(), "signal on ", formatFreq(s.state.currentFreq))
			s.stopLocked()
			return
		case modeSample10s:
			if s.state.signalStartTime.IsZero() {
				s.state.signalStartTime = now
			}
			if now.Sub(s.state.signalStartTime) > sampleDuration {
				s.state.phase = phaseAdvancing
				s.advance(false)
				s.tick()
				return
			}
		}

		s.state.lastSignalTime = now
		s.state.phase = phaseHoldingSignal
		s.schedule(recheckDelay, s.tick)
		return
	}

	delay := s.cfg.delayTime
	if s.state.mode == modeSample10s {
		delay = 0
	}
	if !s.state.lastSignalTime.IsZero() && now.Sub(s.state.lastSignalTime) < delay {
		s.state.phase = phaseHoldingSignal
		s.schedule(recheckDelay, s.tick)
		return
	}

	s.state.phase = phaseAdvancing
	s.advance(false)
	s.tick()
}

func (s *scanner) stepSize(forceMinStep bool) int64 {
	step := s.cfg.stepSize
	if ts, ok := s.spectrum.TuningStep(); ok && ts > 0 {
		step = ts
	}
	if forceMinStep && step < minSkipStep {
		step = minSkipStep
	}
	if step <= 0 {
		step = minSkipStep
	}
	return step
}

func (s *scanner) acceptPeak(f int64) bool {
	return f >= s.state.startFreq && f <= s.state.endFreq && !s.ignore.isIgnored(f)
}

// advance moves currentFreq to the next candidate: the next emission above
// squelch when the spectrum shows one, else the next step that isn't
// ignored.
func (s *scanner) advance(forceMinStep bool) {
	s.state.signalStartTime = time.Time{}
	s.state.lastSignalTime = time.Time{}

	step := s.stepSize(forceMinStep)
	if f, ok := findNextPeak(s.spectrum.Snapshot(), s.state.currentFreq, step, s.cfg.squelchThreshold, s.acceptPeak); ok {
		s.state.currentFreq = f
		return
	}

	for i := 0; i < maxAdvanceIterations; i++ {
		s.state.currentFreq += step
		if s.state.currentFreq > s.state.endFreq {
			s.state.currentFreq = s.state.startFreq
		}
		if !s.ignore.isIgnored(s.state.currentFreq) {
			return
		}
	}
	log.Debug(s.logPrefix(), "every candidate is ignored, settling on ", formatFreq(s.state.currentFreq))
}

func (s *scanner) fineTune() {
	target, ok := peakNear(s.spectrum.Snapshot(), s.state.currentFreq, fineTuneWindow)
	if !ok || abs64(target-s.state.currentFreq) <= fineTuneMinShift {
		return
	}
	if target < s.state.startFreq || target > s.state.endFreq {
		return
	}
	log.Debug(s.logPrefix(), "fine tuning ", formatFreq(s.state.currentFreq), " -> ", formatFreq(target))
	s.state.currentFreq = target
	s.tune(target)
}

func (s *scanner) skip(forced bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.state.running {
		return
	}
	s.cancelTimer()
	s.state.phase = phaseAdvancing
	s.advance(forced)
	s.tick()
}

func (s *scanner) radioFrequency() int64 {
	if f, ok := s.port.Frequency(); ok {
		return f
	}
	return s.state.currentFreq
}

// blockCurrent blacklists the frequency the radio is tuned to and moves on
// right away when scanning.
func (s *scanner) blockCurrent() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	f := s.radioFrequency()
	if !s.ignore.block(f) {
		return false
	}
	log.Print("blocked ", formatFreq(f))

	if s.state.running {
		s.cancelTimer()
		s.tick()
	}
	return true
}

func (s *scanner) releaseCurrent() int {
	s.mutex.Lock()
	f := s.radioFrequency()
	s.mutex.Unlock()

	n := s.ignore.unblock(f)
	if n > 0 {
		log.Print("released ", formatFreq(f))
	}
	return n
}

func (s *scanner) blockRange(start, end int64) {
	s.ignore.blockRange(start, end)
	log.Print("blocked range ", formatFreq(start), " - ", formatFreq(end))
}

// markRange remembers the radio's frequency as one end of a range. The
// second call blocks the range between the mark and the radio's frequency
// and returns blocked=true.
func (s *scanner) markRange() (start, end int64, blocked bool) {
	s.mutex.Lock()
	f := s.radioFrequency()
	if s.rangeMark == 0 {
		s.rangeMark = f
		s.mutex.Unlock()
		log.Print("range start marked at ", formatFreq(f))
		return f, 0, false
	}
	start, end = s.rangeMark, f
	s.rangeMark = 0
	s.mutex.Unlock()

	if start > end {
		start, end = end, start
	}
	s.blockRange(start, end)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state.running && s.ignore.isBlacklisted(s.state.currentFreq) {
		s.cancelTimer()
		s.tick()
	}
	return start, end, true
}

func (s *scanner) cancelRangeMark() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	marked := s.rangeMark != 0
	s.rangeMark = 0
	return marked
}

func (s *scanner) clearBlocked() {
	n := s.ignore.clear()
	log.Print("blacklist cleared, ", n, " entries removed")
}

func (s *scanner) settingsChanged() {
	if s.onSettingsChange != nil {
		s.onSettingsChange(s.settingsLocked())
	}
}

func (s *scanner) setMode(m scanMode) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.state.mode = m
	s.settingsChanged()
}

func (s *scanner) cycleMode() scanMode {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.state.mode = (s.state.mode + 1) % 3
	s.settingsChanged()
	return s.state.mode
}

func (s *scanner) cycleDelay() time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	next := delayChoices[0]
	for i, d := range delayChoices {
		if d == s.cfg.delayTime && i+1 < len(delayChoices) {
			next = delayChoices[i+1]
			break
		}
	}
	s.cfg.delayTime = next
	s.settingsChanged()
	return next
}

func (s *scanner) toggleIgnoreNonVoice() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	v := !s.ignore.getIgnoreNonVoice()
	s.ignore.setIgnoreNonVoice(v)
	s.settingsChanged()
	return v
}

func (s *scanner) adjustSquelch(delta float64) float64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.cfg.squelchThreshold += delta
	return s.cfg.squelchThreshold
}

func (s *scanner) onManualRetune(freq int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Reports caused by our own SetFrequency calls never get here, the
	// radio layer drops them (civControlStruct.reportFreq).
	if !s.state.running {
		return
	}
	if abs64(freq-s.state.currentFreq) > manualRetuneTolerance {
		log.Print(s.logPrefix(), "manual retune to ", formatFreq(freq))
		s.stopLocked()
	}
}

func (s *scanner) onProfileChanged() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state.running {
		log.Print(s.logPrefix(), "receiver profile changed")
		s.stopLocked()
	}
}

func (s *scanner) onModulationChanged(mode string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.modulation = strings.ToLower(mode)
	s.available = scannableModulations[s.modulation]
	if !s.available && s.state.running {
		log.Print(s.logPrefix(), "modulation changed to ", s.modulation)
		s.stopLocked()
	}
}

func (s *scanner) status() scanStatus {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return scanStatus{
		running:        s.state.running,
		available:      s.available,
		phase:          s.state.phase,
		mode:           s.state.mode,
		modulation:     s.modulation,
		freq:           s.state.currentFreq,
		startFreq:      s.state.startFreq,
		endFreq:        s.state.endFreq,
		delay:          s.cfg.delayTime,
		squelch:        s.cfg.squelchThreshold,
		ignoreNonVoice: s.ignore.getIgnoreNonVoice(),
		session:        s.session,
		display:        s.display,
	}
}
