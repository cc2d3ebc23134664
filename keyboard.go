package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/goterm/term"
)

// keyboardStruct reads single key hotkeys from stdin in raw mode.
type keyboardStruct struct {
	mutex       sync.Mutex
	initialized bool
	origTermios term.Termios

	handlers map[byte]func()
}

var keyboard keyboardStruct

func (s *keyboardStruct) isInitialized() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.initialized
}

func (s *keyboardStruct) bind(key byte, h func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[byte]func())
	}
	s.handlers[key] = h
}

func (s *keyboardStruct) handleKey(k byte) {
	s.mutex.Lock()
	h := s.handlers[k]
	s.mutex.Unlock()

	if h != nil {
		h()
	}
}

func (s *keyboardStruct) loop() {
	b := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(b)
		if err != nil || n == 0 {
			return
		}
		s.handleKey(b[0])
	}
}

// init switches stdin to raw mode. It must not log, the status bar calls it
// with its own mutex held.
func (s *keyboardStruct) init() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.initialized {
		return nil
	}

	t, err := term.Attr(os.Stdin)
	if err != nil {
		return fmt.Errorf("can't get terminal attributes: %w", err)
	}
	s.origTermios = t
	t.Raw()
	if err := t.Set(os.Stdin); err != nil {
		return fmt.Errorf("can't set raw terminal mode: %w", err)
	}
	s.initialized = true

	go s.loop()
	return nil
}

func (s *keyboardStruct) deinit() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.initialized {
		return nil
	}
	s.initialized = false
	if err := s.origTermios.Set(os.Stdin); err != nil {
		return fmt.Errorf("can't restore terminal: %w", err)
	}
	return nil
}

// bindScannerKeys wires the scanner hotkeys. quit is called for 'q', 'e' and
// 'i' export to and import from transferPath. '[' pressed twice blocks the
// range between the two frequencies the radio was on, ']' drops a pending
// mark.
func bindScannerKeys(sc *scanner, reg *ignoreRegistry, transferPath string, quit func()) {
	keyboard.bind(' ', sc.toggle)
	keyboard.bind('n', func() { sc.skip(true) })
	keyboard.bind('b', func() {
		if !sc.blockCurrent() {
			log.Print("frequency already blocked or unknown")
		}
	})
	keyboard.bind('r', func() {
		if sc.releaseCurrent() == 0 {
			log.Print("nothing blocked here")
		}
	})
	keyboard.bind('[', func() { sc.markRange() })
	keyboard.bind(']', func() {
		if sc.cancelRangeMark() {
			log.Print("range mark cancelled")
		}
	})
	keyboard.bind('c', sc.clearBlocked)
	keyboard.bind('m', func() { log.Print("scan mode: ", sc.cycleMode().description()) })
	keyboard.bind('d', func() { log.Print("hang delay: ", sc.cycleDelay()) })
	keyboard.bind('f', func() {
		if sc.toggleIgnoreNonVoice() {
			log.Print("skipping non-voice signals")
		} else {
			log.Print("scanning all modes")
		}
	})
	keyboard.bind('g', func() { sc.toggleShowBlockedRanges() })
	keyboard.bind('+', func() { log.Printf("squelch %.0f dB", sc.adjustSquelch(1)) })
	keyboard.bind('=', func() { log.Printf("squelch %.0f dB", sc.adjustSquelch(1)) })
	keyboard.bind('-', func() { log.Printf("squelch %.0f dB", sc.adjustSquelch(-1)) })
	keyboard.bind('e', func() {
		data, err := exportJSON(sc.settings(), reg.list())
		if err == nil {
			err = os.WriteFile(transferPath, append(data, '\n'), 0o644)
		}
		if err != nil {
			log.Error("export failed: ", err)
			return
		}
		log.Print("exported to ", transferPath)
	})
	keyboard.bind('i', func() {
		data, err := os.ReadFile(transferPath)
		if err == nil {
			err = importDocument(data, sc, reg)
		}
		if err != nil {
			log.Error("import failed: ", err)
			return
		}
		log.Print("imported ", transferPath)
	})
	keyboard.bind('q', quit)
	keyboard.bind(3, quit) // ctrl+c, raw mode swallows SIGINT
}
