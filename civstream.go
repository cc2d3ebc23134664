package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

const (
	dialTimeout     = 5 * time.Second
	dialBaseDelay   = 500 * time.Millisecond
	dialMaxRetries  = 6
	writeTimeout    = time.Second
	maxCIVFrameSize = 2048
)

// civStream is a CI-V byte stream over TCP, as exposed by kappanhang's
// serial TCP port or ser2net.
type civStream struct {
	conn    net.Conn
	limiter *rate.Limiter

	writeMutex sync.Mutex
}

func dialCIVStream(ctx context.Context, address string, commandRate int) (*civStream, error) {
	var conn net.Conn
	backoff := retry.WithMaxRetries(dialMaxRetries, retry.NewExponential(dialBaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		d := net.Dialer{Timeout: dialTimeout}
		c, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			log.Print("can't connect to ", address, ": ", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	log.Print("connected to ", address)

	return &civStream{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(commandRate), 1),
	}, nil
}

// send paces writes to the configured command rate. It keeps working after
// the reader stopped so the radio can still be told to stop streaming.
func (s *civStream) send(d []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if _, err := s.conn.Write(d); err != nil {
		return fmt.Errorf("writing to CI-V stream: %w", err)
	}
	return nil
}

// readLoop splits the incoming stream into frames and hands each one to
// handle until ctx is done or the connection fails.
func (s *civStream) readLoop(ctx context.Context, handle func([]byte)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	var framer civFramer
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		for _, frame := range framer.push(buf[:n]) {
			handle(frame)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading CI-V stream: %w", err)
		}
	}
}

func (s *civStream) Close() error {
	var err error
	if tc, ok := s.conn.(*net.TCPConn); ok {
		if cerr := tc.CloseWrite(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	return multierr.Append(err, s.conn.Close())
}

// civFramer reassembles FE FE ... FD frames from arbitrary chunks.
type civFramer struct {
	buf []byte
}

func (f *civFramer) push(p []byte) (frames [][]byte) {
	for _, b := range p {
		switch {
		case len(f.buf) < 2:
			// waiting for the FE FE preamble
			if b == 0xfe {
				f.buf = append(f.buf, b)
			} else {
				f.buf = f.buf[:0]
			}
		case len(f.buf) == 2 && b == 0xfe:
			// some radios send more than two preamble bytes
		default:
			f.buf = append(f.buf, b)
			if b == 0xfd {
				frame := make([]byte, len(f.buf))
				copy(frame, f.buf)
				frames = append(frames, frame)
				f.buf = f.buf[:0]
			} else if len(f.buf) > maxCIVFrameSize {
				f.buf = f.buf[:0]
			}
		}
	}
	return
}
