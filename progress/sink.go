package progress

import (
	"io"
	"os"
)

// WriterSink writes JSON lines to an io.Writer, one Write call per record.
type WriterSink struct {
	w io.Writer
}

// NewWriterSink wraps w. A nil writer means stdout.
func NewWriterSink(w io.Writer) *WriterSink {
	if w == nil {
		w = os.Stdout
	}
	return &WriterSink{w: w}
}

// Write implements Sink.
func (s *WriterSink) Write(record []byte) error {
	_, err := s.w.Write(record)
	return err
}

// Publisher publishes a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each record to a NATS subject for live dashboards.
type NATSSink struct {
	pub     Publisher
	subject string
}

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "semheal.progress"

// NewNATSSink creates a sink publishing on subject.
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{pub: pub, subject: subject}
}

// Write implements Sink. The trailing newline is not published.
func (s *NATSSink) Write(record []byte) error {
	n := len(record)
	if n > 0 && record[n-1] == '\n' {
		n--
	}
	data := make([]byte, n)
	copy(data, record[:n])
	return s.pub.Publish(s.subject, data)
}
