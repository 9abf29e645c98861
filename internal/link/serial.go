package link

import (
	"bufio"
	"context"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/pkg/errors"
	serial "go.bug.st/serial"

	"github.com/tiiuae/flightsession/internal/types"
)

// Serial exchanges newline delimited JSON frames with a radio attached to a serial port
type Serial struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
	r    *bufio.Reader
}

// OpenSerial opens device (e.g. /dev/ttyUSB0) at baud
func OpenSerial(device string, baud int) (*Serial, error) {
	p, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial %s", device)
	}
	log.Printf("Serial: opened %s at %d baud", device, baud)
	return NewSerial(p), nil
}

func NewSerial(port io.ReadWriteCloser) *Serial {
	return &Serial{port: port, r: bufio.NewReader(port)}
}

// SendCommand writes b followed by a newline
func (s *Serial) SendCommand(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return errors.New("serial port not open")
	}
	_, err := s.port.Write(append(append([]byte(nil), b...), '\n'))
	return err
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Run reads frames until the port closes or ctx is done and posts them to the bus
func (s *Serial) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(2)
	go s.runReader(ctx, wg, post)
	go s.runCloser(ctx, wg)
}

func (s *Serial) Receive(message types.Message) {
}

func (s *Serial) handleLine(line string, post types.PostFn) {
	msg, err := DecodeFrame([]byte(line))
	if err != nil {
		log.Printf("Serial: dropping frame: %v", err)
		return
	}
	post(msg)
}

func (s *Serial) runCloser(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	<-ctx.Done()
	if err := s.Close(); err != nil {
		log.Printf("Serial: close failed: %v", err)
	}
}

func (s *Serial) runReader(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	defer wg.Done()

	for {
		line, err := s.r.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			s.handleLine(line, post)
		}
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("Serial: read failed: %v", err)
			}
			return
		}
	}
}
