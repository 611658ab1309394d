package session

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// header is one name/value pair, kept in file order. Headers are stored
// as a slice rather than a map because RFC 5322 messages legally carry
// repeated header names (Received, most notably) and rewriting must
// preserve their relative order.
type header struct {
	Name  string
	Value string
}

// MIME is the lazily-parsed header block of a spooled message. The body
// is never loaded into memory; only the headers (everything up to the
// first blank line) are parsed, matching spec.md §3's "mime (lazily
// parsed MIME tree with mutable header block)".
type MIME struct {
	parsed  bool
	headers []header
	// bodyOffset is the byte offset into the raw file where the body
	// starts, once parsed.
	bodyOffset int64
}

func newMIME() *MIME {
	return &MIME{}
}

// receivedQueueID matches the queue-id token out of a Received header,
// per spec.md §4.3: `E?SMTP id ([A-Z0-9]+)`.
var receivedQueueID = regexp.MustCompile(`E?SMTP id ([A-Z0-9]+)`)

// ParseHeaders reads headers from r up to the first blank line (CRLF or
// LF terminated) and records the byte offset of the body. Folded
// (continuation) header lines are joined into the prior header's value.
func (m *MIME) ParseHeaders(r io.Reader) error {
	br := bufio.NewReader(r)
	var (
		offset  int64
		current *header
	)
	for {
		line, err := br.ReadString('\n')
		offset += int64(len(line))
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if (line[0] == ' ' || line[0] == '\t') && current != nil {
			current.Value += " " + strings.TrimSpace(trimmed)
		} else {
			name, value, ok := strings.Cut(trimmed, ":")
			if !ok {
				continue
			}
			m.headers = append(m.headers, header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
			current = &m.headers[len(m.headers)-1]
		}
		if err != nil {
			break
		}
	}
	m.bodyOffset = offset
	m.parsed = true
	return nil
}

func (m *MIME) ensureParsed() {
	if !m.parsed {
		m.parsed = true
	}
}

// Get returns the first header value matching name (case-insensitive),
// or "", false if absent.
func (m *MIME) Get(name string) (string, bool) {
	m.ensureParsed()
	for _, h := range m.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// GetAll returns every header value matching name, in file order.
func (m *MIME) GetAll(name string) []string {
	m.ensureParsed()
	var out []string
	for _, h := range m.headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// Set replaces (or adds, if absent) the first occurrence of name.
func (m *MIME) Set(name, value string) {
	m.ensureParsed()
	for i, h := range m.headers {
		if strings.EqualFold(h.Name, name) {
			m.headers[i].Value = value
			return
		}
	}
	m.Add(name, value)
}

// Add appends a new header, even if one by that name already exists.
func (m *MIME) Add(name, value string) {
	m.ensureParsed()
	m.headers = append(m.headers, header{Name: name, Value: value})
}

// PrefixSubject prepends prefix to the Subject header, creating one if
// absent. Matches spec.md §4.4's spam_subject_prefix tagging.
func (m *MIME) PrefixSubject(prefix string) {
	subj, ok := m.Get("Subject")
	if !ok {
		m.Add("Subject", prefix)
		return
	}
	if strings.HasPrefix(subj, prefix) {
		return
	}
	m.Set("Subject", prefix+subj)
}

// LastReceivedQueueID extracts the queue-id token from the most recently
// added Received header (the last one added by the nearest-upstream
// MTA hop), per spec.md §4.3.
func (m *MIME) LastReceivedQueueID() (string, bool) {
	received := m.GetAll("Received")
	if len(received) == 0 {
		return "", false
	}
	last := received[len(received)-1]
	match := receivedQueueID.FindStringSubmatch(last)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// WriteTo serializes the (possibly mutated) header block followed by
// the unmodified body, read from bodyReader.
func (m *MIME) WriteTo(w io.Writer, bodyReader io.Reader) error {
	var buf bytes.Buffer
	for _, h := range m.headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}
	buf.WriteString("\r\n")
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err := io.Copy(w, bodyReader)
	return err
}

// BodyOffset returns the byte offset where the body begins in the
// originally parsed stream.
func (m *MIME) BodyOffset() int64 { return m.bodyOffset }

// Dirty reports whether headers were parsed at all (and therefore
// might need rewriting on disk before re-injection).
func (m *MIME) Dirty() bool { return m.parsed }
