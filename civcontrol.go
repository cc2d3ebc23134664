package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

const statusPollInterval = time.Second
const sPollInterval = 50 * time.Millisecond
const commandRetryTimeout = 500 * time.Millisecond
const scopeStaleTimeout = 2 * time.Second
const ON = 1
const OFF = 0
const OK = 0xfb
const NG = 0xfa

// Commands reference: https://www.icomeurope.com/wp-content/uploads/2020/08/IC-705_ENG_CI-V_1_20200721.pdf
type civOperatingMode struct {
	name string
	code byte
}

var civOperatingModes = []civOperatingMode{
	{name: "LSB", code: 0x00},
	{name: "USB", code: 0x01},
	{name: "AM", code: 0x02},
	{name: "CW", code: 0x03},
	{name: "RTTY", code: 0x04},
	{name: "FM", code: 0x05},
	{name: "WFM", code: 0x06},
	{name: "CW-R", code: 0x07},
	{name: "RTTY-R", code: 0x08},
	{name: "DV", code: 0x17},
}

type civFilter struct {
	name string
	code byte
}

var civFilters = []civFilter{
	{name: "FIL1", code: 0x01},
	{name: "FIL2", code: 0x02},
	{name: "FIL3", code: 0x03},
}

type civPassband struct {
	low  int64
	high int64
}

// Default IF filter passbands relative to the displayed frequency, indexed
// by filter (FIL1, FIL2, FIL3).
var civPassbands = map[string][3]civPassband{
	"LSB":    {{-3200, -200}, {-2600, -200}, {-2000, -200}},
	"USB":    {{200, 3200}, {200, 2600}, {200, 2000}},
	"AM":     {{-4500, 4500}, {-3000, 3000}, {-1500, 1500}},
	"CW":     {{-600, 600}, {-250, 250}, {-125, 125}},
	"CW-R":   {{-600, 600}, {-250, 250}, {-125, 125}},
	"RTTY":   {{-1200, 1200}, {-250, 250}, {-125, 125}},
	"RTTY-R": {{-1200, 1200}, {-250, 250}, {-125, 125}},
	"FM":     {{-7500, 7500}, {-5000, 5000}, {-3500, 3500}},
	"WFM":    {{-100000, 100000}, {-100000, 100000}, {-100000, 100000}},
	"DV":     {{-3000, 3000}, {-3000, 3000}, {-3000, 3000}},
}

var civTuningSteps = map[byte]int64{
	1:  100,
	2:  500,
	3:  1000,
	4:  5000,
	5:  6250,
	6:  8330,
	7:  9000,
	8:  10000,
	9:  12500,
	10: 20000,
	11: 25000,
	12: 50000,
	13: 100000,
}

type civCmd struct {
	pending bool
	sentAt  time.Time
	name    string
	cmd     []byte
}

type civTransport interface {
	send(d []byte) error
}

// civControlStruct tracks the radio state the scanner needs and exposes it
// as the scanner's spectrum source and tuning port.
type civControlStruct struct {
	st                 civTransport
	bus                *eventBus
	newPendingCmdAdded chan bool

	scopeFloorDB float64
	scopeRangeDB float64

	state struct {
		mutex       sync.Mutex
		pendingCmds []*civCmd

		getFreq        civCmd
		getS           civCmd // get S-meter reading
		getTuningStep  civCmd
		getSQL         civCmd
		getMainVFOFreq civCmd
		getMainVFOMode civCmd

		setMainVFOFreq civCmd
		setScopeOn     civCmd
		setScopeOutput civCmd
		setScopeMode   civCmd

		lastVFOFreqReceivedAt time.Time

		freq        int64
		freqKnown   bool
		lastSetFreq int64
		lastSetAt   time.Time

		operatingModeIdx int
		dataMode         bool
		filterIdx        int
		modeKnown        bool
		modulation       string

		tsValue  byte
		ts       int64
		sqlLevel int

		sRaw int
		// the last S reading was requested after the last retune
		sFresh bool

		scopeLowEdge   int64
		scopeHighEdge  int64
		scopeKnown     bool
		scopeBins      []float64
		scopeUpdatedAt time.Time
		scopeBuf       scopeSeqBufStruct
	}
}

type CIVCmdSet struct {
	cmdSeq []byte
}

type CIVCmds map[string]CIVCmdSet

var CIV = CIVCmds{
	// 0x00 // send frequency data via transceive
	// 0x01 // send mode data via transceive
	// 0x03 // read operating frequency
	"getFreq": CIVCmdSet{cmdSeq: []byte{0x03}},
	// 0x04 // read operating mode
	"getMode": CIVCmdSet{cmdSeq: []byte{0x04}},
	// 0x10
	"getTuningStep": CIVCmdSet{cmdSeq: []byte{0x10}},
	// 0x14 // gain, squelch, noise reduction
	"getSQL": CIVCmdSet{cmdSeq: []byte{0x14, 0x03}},
	// 0x15
	"getS": CIVCmdSet{cmdSeq: []byte{0x15, 0x02}}, // read S-meter level
	// 0x25 // VFO frequency settings
	"getMainVFOFreq": CIVCmdSet{cmdSeq: []byte{0x25, 0x00}},
	"setMainVFOFreq": CIVCmdSet{cmdSeq: []byte{0x25, 0x00}},
	// 0x26 // VFO mode & filter settings
	"getMainVFOMode": CIVCmdSet{cmdSeq: []byte{0x26, 0x00}},
	// 0x27 // scope settings
	"setScopeOn":     CIVCmdSet{cmdSeq: []byte{0x27, 0x10}},
	"setScopeOutput": CIVCmdSet{cmdSeq: []byte{0x27, 0x11}},
	"setScopeMode":   CIVCmdSet{cmdSeq: []byte{0x27, 0x14, 0x00}}, // main scope, 00 center / 01 fixed
}

var noData = []byte{}

func newCIVControl(bus *eventBus, scopeFloorDB, scopeRangeDB float64) *civControlStruct {
	return &civControlStruct{
		bus:                bus,
		newPendingCmdAdded: make(chan bool),
		scopeFloorDB:       scopeFloorDB,
		scopeRangeDB:       scopeRangeDB,
	}
}

func (s *civControlStruct) publish(e radioEvent) {
	if s.bus != nil {
		s.bus.publish(e)
	}
}

// decode handles one complete CI-V frame coming from the radio.
func (s *civControlStruct) decode(d []byte) {
	if debugPackets {
		debugPacket("decoding", d)
	}

	// minimum valid packet is six bytes long: 2 start-of-packet, to, from, cmd, end-of-packet
	if len(d) < 6 || d[0] != 0xfe || d[1] != 0xfe || d[len(d)-1] != 0xfd {
		return
	}
	// our own commands echoed back by the bus, or another device talking
	if d[3] != civAddress || (d[2] != controllerAddress && d[2] != 0x00) {
		return
	}

	payload := d[5 : len(d)-1]

	s.state.mutex.Lock()
	defer s.state.mutex.Unlock()

	switch d[4] {
	case 0x00, 0x03: // transceive frequency report, read operating frequency
		s.decodeFreq(payload)
	case 0x01, 0x04: // transceive mode report, read operating mode
		s.decodeMode(payload)
	case 0x10:
		s.decodeTuningStep(payload)
	case 0x14:
		s.decodeSQL(payload)
	case 0x15:
		s.decodeS(payload)
	case 0x25:
		s.decodeVFOFreq(payload)
	case 0x26:
		s.decodeVFOMode(payload)
	case 0x27:
		s.decodeScope(payload)
	case OK, NG:
		s.decodeAck(d[4] == OK)
	}
}

func (s *civControlStruct) decodeFreq(d []byte) {
	if len(d) < 4 {
		return
	}
	var requestedAt time.Time
	if s.state.getFreq.pending {
		requestedAt = s.state.getFreq.sentAt
		s.removePendingCmd(&s.state.getFreq)
	}
	s.reportFreq(decodeFreqData(d), requestedAt)
}

// reportFreq stores a frequency read from the radio. Reports that can't be
// explained by our own tuning are published as manual retunes.
// requestedAt is zero for unsolicited (transceive) reports.
func (s *civControlStruct) reportFreq(f int64, requestedAt time.Time) {
	s.state.freq = f
	s.state.freqKnown = true
	s.state.lastVFOFreqReceivedAt = time.Now()
	statusLog.reportFrequency(f)

	if s.state.setMainVFOFreq.pending || f == s.state.lastSetFreq {
		return
	}
	// answer to a poll that was sent before we retuned
	if !requestedAt.IsZero() && requestedAt.Before(s.state.lastSetAt) {
		return
	}
	s.publish(radioEvent{Type: eventManualRetune, Freq: f})
}

func (s *civControlStruct) decodeFilterValueToFilterIdx(v byte) int {
	for i := range civFilters {
		if civFilters[i].code == v {
			return i
		}
	}
	return 0
}

func (s *civControlStruct) decodeMode(d []byte) {
	if len(d) < 1 {
		return
	}

	idx := -1
	for i := range civOperatingModes {
		if civOperatingModes[i].code == d[0] {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	s.state.operatingModeIdx = idx
	if len(d) > 1 {
		s.state.filterIdx = s.decodeFilterValueToFilterIdx(d[1])
	}
	s.modeUpdated()
}

func (s *civControlStruct) decodeVFOMode(d []byte) {
	if len(d) < 2 || d[0] != 0x00 {
		return
	}
	if s.state.getMainVFOMode.pending {
		s.removePendingCmd(&s.state.getMainVFOMode)
	}

	idx := -1
	for i := range civOperatingModes {
		if civOperatingModes[i].code == d[1] {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	s.state.operatingModeIdx = idx
	s.state.dataMode = len(d) > 2 && d[2] != 0
	if len(d) > 3 {
		s.state.filterIdx = s.decodeFilterValueToFilterIdx(d[3])
	}
	s.modeUpdated()
}

func (s *civControlStruct) modeUpdated() {
	s.state.modeKnown = true
	mode := civOperatingModes[s.state.operatingModeIdx]
	statusLog.reportMode(mode.name, s.state.dataMode, civFilters[s.state.filterIdx].name)

	modulation := strings.ToLower(mode.name)
	if modulation == "fm" && s.state.filterIdx > 0 {
		modulation = "nfm"
	}
	if s.state.dataMode {
		modulation += "-d"
	}
	if modulation != s.state.modulation {
		s.state.modulation = modulation
		s.publish(radioEvent{Type: eventModulationChanged, Modulation: modulation})
	}
}

func (s *civControlStruct) decodeTuningStep(d []byte) {
	if len(d) < 1 {
		return
	}
	if s.state.getTuningStep.pending {
		s.removePendingCmd(&s.state.getTuningStep)
	}

	s.state.tsValue = d[0]
	// 0 is the 10 Hz "off" step, useless for scanning, treated as unknown
	s.state.ts = civTuningSteps[s.state.tsValue]
	statusLog.reportTuningStep(s.state.ts)
}

func (s *civControlStruct) decodeSQL(d []byte) {
	// subcmd, data msb, data lsb (BCD)
	if len(d) < 3 || d[0] != 0x03 {
		return
	}
	if s.state.getSQL.pending {
		s.removePendingCmd(&s.state.getSQL)
	}
	s.state.sqlLevel = bcdToInt(d[1:3])
	statusLog.reportSQL(s.state.sqlLevel)
}

func (s *civControlStruct) decodeS(d []byte) {
	if len(d) < 3 || d[0] != 0x02 {
		return
	}
	if !s.state.getS.pending {
		return
	}
	s.state.sRaw = bcdToInt(d[1:3])
	s.state.sFresh = !s.state.getS.sentAt.Before(s.state.lastSetAt)
	s.removePendingCmd(&s.state.getS)
	statusLog.reportS(sLevelString(s.state.sRaw))
}

func (s *civControlStruct) decodeVFOFreq(d []byte) {
	if len(d) < 5 || d[0] != 0x00 {
		return
	}
	var requestedAt time.Time
	if s.state.getMainVFOFreq.pending {
		requestedAt = s.state.getMainVFOFreq.sentAt
		s.removePendingCmd(&s.state.getMainVFOFreq)
	}
	s.reportFreq(decodeFreqData(d[1:]), requestedAt)
}

func (s *civControlStruct) decodeScope(d []byte) {
	if len(d) < 1 || d[0] != 0x00 {
		return
	}
	s.decodeScopeWaveform(d[1:])
}

// Waveform data: main/sub, division number, division count. The first
// division carries the scope mode, both edge frequencies and the out of
// range flag; waveform bytes follow in every division.
func (s *civControlStruct) decodeScopeWaveform(d []byte) {
	if len(d) < 3 || d[0] != 0x00 {
		return
	}
	seq := bcdByte(d[1])
	count := bcdByte(d[2])
	data := d[3:]

	if seq == 1 {
		if len(data) < 12 {
			return
		}
		s.setScopeEdges(data[0], decodeFreqData(data[1:6]), decodeFreqData(data[6:11]))
		data = data[12:]
	}

	sweep, ok := s.state.scopeBuf.add(seq, count, data)
	if !ok {
		return
	}
	bins := make([]float64, len(sweep))
	for i, v := range sweep {
		bins[i] = s.scopeValueToDB(v)
	}
	s.state.scopeBins = bins
	s.state.scopeUpdatedAt = time.Now()
}

func (s *civControlStruct) setScopeEdges(mode byte, f1, f2 int64) {
	lo, hi := f1, f2
	if mode == 0x00 { // center mode: center and half span
		lo, hi = f1-f2, f1+f2
	}
	if hi <= lo {
		return
	}

	if s.state.scopeKnown && (abs64(lo-s.state.scopeLowEdge) > bandChangeTolerance ||
		abs64(hi-s.state.scopeHighEdge) > bandChangeTolerance) {
		s.state.scopeBins = nil
		s.publish(radioEvent{Type: eventProfileChanged})
	}
	s.state.scopeLowEdge = lo
	s.state.scopeHighEdge = hi
	s.state.scopeKnown = true
	statusLog.reportScope(lo, hi)
}

// waveform values run from 0 to 160
func (s *civControlStruct) scopeValueToDB(v byte) float64 {
	if v > 160 {
		v = 160
	}
	return s.scopeFloorDB + float64(v)/160*s.scopeRangeDB
}

func (s *civControlStruct) decodeAck(ok bool) {
	var oldest *civCmd
	for _, cmd := range []*civCmd{&s.state.setMainVFOFreq, &s.state.setScopeOn, &s.state.setScopeOutput, &s.state.setScopeMode} {
		if cmd.pending && (oldest == nil || cmd.sentAt.Before(oldest.sentAt)) {
			oldest = cmd
		}
	}
	if oldest == nil {
		return
	}
	if !ok {
		log.Warn("radio rejected ", oldest.name)
	}
	s.removePendingCmd(oldest)
}

func (s *civControlStruct) initCmd(cmd *civCmd, name string, data []byte) {
	*cmd = civCmd{}
	cmd.name = name
	cmd.cmd = data // this is the cmd + subcmd + data to send
}

func (s *civControlStruct) getPendingCmdIndex(cmd *civCmd) int {
	for i := range s.state.pendingCmds {
		if cmd == s.state.pendingCmds[i] {
			return i
		}
	}
	return -1
}

func (s *civControlStruct) removePendingCmd(cmd *civCmd) {
	cmd.pending = false
	index := s.getPendingCmdIndex(cmd)
	if index < 0 {
		return
	}
	s.state.pendingCmds[index] = s.state.pendingCmds[len(s.state.pendingCmds)-1]
	s.state.pendingCmds[len(s.state.pendingCmds)-1] = nil
	s.state.pendingCmds = s.state.pendingCmds[:len(s.state.pendingCmds)-1]
}

func (s *civControlStruct) sendCmd(cmd *civCmd) error {
	// if the stream isn't established there's nowhere to send the command to
	if s.st == nil {
		return nil
	}

	cmd.pending = true
	cmd.sentAt = time.Now()

	if s.getPendingCmdIndex(cmd) < 0 {
		s.state.pendingCmds = append(s.state.pendingCmds, cmd)
		select {
		case s.newPendingCmdAdded <- true:
		default:
		}
	}

	return s.st.send(cmd.cmd)
}

func prepPacket(command string, data []byte) (pkt []byte) {
	pkt = append([]byte{0xfe, 0xfe}, []byte{civAddress, controllerAddress}...)
	pkt = append(pkt, CIV[command].cmdSeq...)
	pkt = append(pkt, data...)
	pkt = append(pkt, []byte{0xfd}...)
	if debugPackets {
		debugPacket(command, pkt)
	}
	return
}

// big-endian packed BCD as used by levels and meters: 02 41 => 241
func bcdToInt(bcd []byte) int {
	var v int
	for _, b := range bcd {
		v = v*100 + int(b>>4)*10 + int(b&0x0f)
	}
	return v
}

func bcdByte(b byte) byte {
	return (b>>4)*10 + b&0x0f
}

// frequencies are sent least significant digit pair first
func decodeFreqData(d []byte) (f int64) {
	mul := int64(1)
	for _, v := range d {
		f += int64(v&0x0f) * mul
		mul *= 10
		f += int64(v>>4) * mul
		mul *= 10
	}
	return
}

func encodeFreqData(f int64) (b [5]byte) {
	for i := range b {
		lo := f % 10
		f /= 10
		hi := f % 10
		f /= 10
		b[i] = byte(hi<<4 | lo)
	}
	return
}

// S-meter readings: 0 => S0, 120 => S9, 241 => S9+60dB.
func sMeterToDBm(raw int) float64 {
	switch {
	case raw <= 0:
		return -127
	case raw <= 120:
		return -127 + float64(raw)*54/120
	case raw >= 241:
		return -13
	}
	return -73 + float64(raw-120)*60/121
}

func sLevelString(raw int) string {
	dbm := sMeterToDBm(raw)
	if dbm <= -73 {
		return fmt.Sprint("S", int(math.Round((dbm+127)/6)))
	}
	return fmt.Sprint("S9+", int(math.Round((dbm+73)/10))*10)
}

func (s *civControlStruct) CenterFrequency() (int64, bool) {
	s.state.mutex.Lock()
	defer s.state.mutex.Unlock()

	if !s.state.scopeKnown {
		return 0, false
	}
	return (s.state.scopeLowEdge + s.state.scopeHighEdge) / 2, true
}

func (s *civControlStruct) Bandwidth() (int64, bool) {
	s.state.mutex.Lock()
	defer s.state.mutex.Unlock()

	if !s.state.scopeKnown {
		return 0, false
	}
	return s.state.scopeHighEdge - s.state.scopeLowEdge, true
}

func (s *civControlStruct) TuningStep() (int64, bool) {
	s.state.mutex.Lock()
	defer s.state.mutex.Unlock()
	return s.state.ts, s.state.ts > 0
}

// SignalLevel is the S-meter reading in mW. Readings requested before the
// last retune belong to the previous frequency and are not reported.
func (s *civControlStruct) SignalLevel() (float64, bool) {
	s.state.mutex.Lock()
	defer s.state.mutex.Unlock()

	if !s.state.sFresh {
		return 0, false
	}
	return math.Pow(10, sMeterToDBm(s.state.sRaw)/10), true
}

func (s *civControlStruct) Snapshot() spectrumSnapshot {
	s.state.mutex.Lock()
	defer s.state.mutex.Unlock()

	if !s.state.scopeKnown || len(s.state.scopeBins) == 0 || time.Since(s.state.scopeUpdatedAt) > scopeStaleTimeout {
		return spectrumSnapshot{}
	}
	return spectrumSnapshot{
		centerFreq: (s.state.scopeLowEdge + s.state.scopeHighEdge) / 2,
		bandwidth:  s.state.scopeHighEdge - s.state.scopeLowEdge,
		bins:       append([]float64(nil), s.state.scopeBins...),
	}
}

func (s *civControlStruct) SetFrequency(f int64) error {
	if f <= 0 {
		return fmt.Errorf("invalid frequency %d", f)
	}

	s.state.mutex.Lock()
	defer s.state.mutex.Unlock()

	s.state.lastSetFreq = f
	s.state.lastSetAt = time.Now()
	s.state.sFresh = false

	asBCD := encodeFreqData(f) // encodes to [5]byte to ensure leading zero's aren't lost
	s.initCmd(&s.state.setMainVFOFreq, "setMainVFOFreq", prepPacket("setMainVFOFreq", asBCD[:]))
	return s.sendCmd(&s.state.setMainVFOFreq)
}

func (s *civControlStruct) Frequency() (int64, bool) {
	s.state.mutex.Lock()
	defer s.state.mutex.Unlock()
	return s.state.freq, s.state.freqKnown
}

func (s *civControlStruct) Passband() (low, high int64, ok bool) {
	s.state.mutex.Lock()
	defer s.state.mutex.Unlock()

	if !s.state.modeKnown {
		return 0, 0, false
	}
	pb, ok := civPassbands[civOperatingModes[s.state.operatingModeIdx].name]
	if !ok {
		return 0, 0, false
	}
	return pb[s.state.filterIdx].low, pb[s.state.filterIdx].high, true
}

func (s *civControlStruct) Modulation() (string, bool) {
	s.state.mutex.Lock()
	defer s.state.mutex.Unlock()
	return s.state.modulation, s.state.modeKnown
}

func (s *civControlStruct) getFreq() error {
	s.initCmd(&s.state.getFreq, "getFreq", prepPacket("getFreq", noData))
	return s.sendCmd(&s.state.getFreq)
}

func (s *civControlStruct) getS() error {
	s.initCmd(&s.state.getS, "getS", prepPacket("getS", noData))
	return s.sendCmd(&s.state.getS)
}

func (s *civControlStruct) getTuningStep() error {
	s.initCmd(&s.state.getTuningStep, "getTuningStep", prepPacket("getTuningStep", noData))
	return s.sendCmd(&s.state.getTuningStep)
}

func (s *civControlStruct) getSQL() error {
	s.initCmd(&s.state.getSQL, "getSQL", prepPacket("getSQL", noData))
	return s.sendCmd(&s.state.getSQL)
}

func (s *civControlStruct) getMainVFOFreq() error {
	s.initCmd(&s.state.getMainVFOFreq, "getMainVFOFreq", prepPacket("getMainVFOFreq", noData))
	return s.sendCmd(&s.state.getMainVFOFreq)
}

func (s *civControlStruct) getMainVFOMode() error {
	s.initCmd(&s.state.getMainVFOMode, "getMainVFOMode", prepPacket("getMainVFOMode", noData))
	return s.sendCmd(&s.state.getMainVFOMode)
}

// enableScope switches the main scope on in fixed mode so its edges stay
// put while the VFO moves, and asks the radio to stream waveform data.
func (s *civControlStruct) enableScope() error {
	s.initCmd(&s.state.setScopeOn, "setScopeOn", prepPacket("setScopeOn", []byte{ON}))
	if err := s.sendCmd(&s.state.setScopeOn); err != nil {
		return err
	}
	s.initCmd(&s.state.setScopeOutput, "setScopeOutput", prepPacket("setScopeOutput", []byte{ON}))
	if err := s.sendCmd(&s.state.setScopeOutput); err != nil {
		return err
	}
	s.initCmd(&s.state.setScopeMode, "setScopeMode", prepPacket("setScopeMode", []byte{0x01}))
	return s.sendCmd(&s.state.setScopeMode)
}

func (s *civControlStruct) loop(ctx context.Context) error {
	sTicker := time.NewTicker(sPollInterval)
	defer sTicker.Stop()
	statusTicker := time.NewTicker(statusPollInterval)
	defer statusTicker.Stop()

	for {
		s.state.mutex.Lock()
		nextPendingCmdTimeout := time.Hour
		for i := range s.state.pendingCmds {
			remaining := commandRetryTimeout - time.Since(s.state.pendingCmds[i].sentAt)
			if remaining <= 0 {
				nextPendingCmdTimeout = 0
				break
			}
			if remaining < nextPendingCmdTimeout {
				nextPendingCmdTimeout = remaining
			}
		}
		s.state.mutex.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-sTicker.C:
			s.state.mutex.Lock()
			if !s.state.getS.pending {
				_ = s.getS()
			}
			s.state.mutex.Unlock()
		case <-statusTicker.C:
			s.state.mutex.Lock()
			if !s.state.getMainVFOFreq.pending && time.Since(s.state.lastVFOFreqReceivedAt) >= statusPollInterval {
				_ = s.getMainVFOFreq()
			}
			if !s.state.getMainVFOMode.pending {
				_ = s.getMainVFOMode()
			}
			if !s.state.getTuningStep.pending {
				_ = s.getTuningStep()
			}
			if !s.state.getSQL.pending {
				_ = s.getSQL()
			}
			s.state.mutex.Unlock()
		case <-s.newPendingCmdAdded:
		case <-time.After(nextPendingCmdTimeout):
			s.state.mutex.Lock()
			for _, cmd := range s.state.pendingCmds {
				if time.Since(cmd.sentAt) >= commandRetryTimeout {
					log.Debug("retrying cmd send ", cmd.name)
					_ = s.sendCmd(cmd)
				}
			}
			s.state.mutex.Unlock()
		}
	}
}

func (s *civControlStruct) init(st civTransport) error {
	s.state.mutex.Lock()
	defer s.state.mutex.Unlock()

	s.st = st

	if err := s.getFreq(); err != nil {
		return err
	}
	if err := s.getMainVFOMode(); err != nil {
		return err
	}
	if err := s.getTuningStep(); err != nil {
		return err
	}
	if err := s.getSQL(); err != nil {
		return err
	}
	if err := s.getS(); err != nil {
		return err
	}
	return s.enableScope()
}

// deinit stops the waveform stream and detaches from the transport.
func (s *civControlStruct) deinit() error {
	s.state.mutex.Lock()
	defer s.state.mutex.Unlock()

	if s.st == nil {
		return nil
	}
	err := s.st.send(prepPacket("setScopeOutput", []byte{OFF}))
	s.st = nil
	s.state.pendingCmds = nil
	return err
}

func debugPacket(command string, pkt []byte) {
	if len(pkt) < 6 {
		return
	}
	to := pkt[2]
	frm := pkt[3]
	cmd := pkt[4]
	pld := pkt[5 : len(pkt)-1]

	msg := fmt.Sprintf("'%v' [% x]  ", command, pkt)
	msg += "to "

	if to == civAddress {
		msg += "[RADIO] "
	} else if to == controllerAddress {
		msg += "[CONTROLLER] "
	} else {
		msg += fmt.Sprintf("[UNKNOWN DEVICE: %02x] ", to)
	}
	msg += "<= from "
	if frm == civAddress {
		msg += "[RADIO] "
	} else if frm == controllerAddress {
		msg += "[CONTROLLER] "
	} else {
		msg += fmt.Sprintf("[UNKNOWN DEVICE: %02x] ", frm)
	}

	msg += fmt.Sprintf("cmd: [%02x]  ", cmd)
	msg += fmt.Sprintf("payload [% x]", pld)
	log.Debug(msg)
}
