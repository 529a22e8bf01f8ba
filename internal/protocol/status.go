package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/glog"
)

const (
	statusPrefix   = "STATUS"
	fieldSeparator = "--"

	keyDir        = "DIR"
	keyStarted    = "STARTED"
	keyReasonCode = "REASONCODE"
	keyReason     = "REASON"
)

// ErrNotStatusLine is returned by ParseStatusLine for lines that do not
// begin with the STATUS token.
var ErrNotStatusLine = errors.New("not a STATUS line")

// Status is one segment outcome reported by the remote segment-control
// program.
type Status struct {
	DataDirectory string
	Reason        string
	ReasonCode    ReasonCode
	Started       bool
}

// FormatStatus renders s as a single STATUS line without a trailing newline:
//
//	STATUS--DIR:<dir>--STARTED:<true|false>--REASONCODE:<n>--REASON:<text>
//
// REASON is last so its text may contain ":" and "--". Line breaks in the
// reason are folded to spaces because the protocol is line oriented.
func FormatStatus(s Status) string {
	reason := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s.Reason)
	return fmt.Sprintf("%s%s%s:%s%s%s:%t%s%s:%d%s%s:%s",
		statusPrefix,
		fieldSeparator, keyDir, s.DataDirectory,
		fieldSeparator, keyStarted, s.Started,
		fieldSeparator, keyReasonCode, int(s.ReasonCode),
		fieldSeparator, keyReason, reason)
}

// EncodableDataDirectory reports whether dir survives a round trip through
// FormatStatus and ParseStatusLine. DIR is a positional field, so it may not
// contain the field separator or a line break.
func EncodableDataDirectory(dir string) bool {
	return !strings.Contains(dir, fieldSeparator) && !strings.ContainsAny(dir, "\r\n")
}

// ParseStatusLine decodes one STATUS line.
//
// Fields are positional: DIR, STARTED, an optional REASONCODE and finally
// REASON. Everything after REASONCODE (or after STARTED when the code is
// absent) is rejoined with "--" and only the first ":" is treated as the
// label separator, so the reason text is recovered verbatim. A missing
// REASONCODE yields ReasonUnknownError.
func ParseStatusLine(line string) (Status, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, statusPrefix) {
		return Status{}, ErrNotStatusLine
	}

	fields := strings.Split(line, fieldSeparator)
	if len(fields) < 3 {
		return Status{}, fmt.Errorf("status line has %d fields, want at least 3: %q", len(fields), line)
	}

	dir, err := fieldValue(fields[1], keyDir)
	if err != nil {
		return Status{}, err
	}
	startedText, err := fieldValue(fields[2], keyStarted)
	if err != nil {
		return Status{}, err
	}
	started, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(startedText)))
	if err != nil {
		return Status{}, fmt.Errorf("status line for %s: bad STARTED value %q", dir, startedText)
	}

	st := Status{
		DataDirectory: dir,
		Started:       started,
		ReasonCode:    ReasonUnknownError,
	}

	index := 3
	if index < len(fields) && strings.HasPrefix(fields[index], keyReasonCode+":") {
		code, err := strconv.Atoi(strings.TrimSpace(fields[index][len(keyReasonCode)+1:]))
		if err != nil {
			return Status{}, fmt.Errorf("status line for %s: bad REASONCODE %q", dir, fields[index])
		}
		st.ReasonCode = ReasonCode(code)
		index++
	}

	if index < len(fields) {
		rest := strings.Join(fields[index:], fieldSeparator)
		if i := strings.Index(rest, ":"); i >= 0 {
			st.Reason = rest[i+1:]
		}
	}
	return st, nil
}

// fieldValue splits "KEY:value" at the first colon and checks the key.
func fieldValue(field, key string) (string, error) {
	k, v, ok := strings.Cut(field, ":")
	if !ok || k != key {
		return "", fmt.Errorf("expected %s field, got %q", key, field)
	}
	return v, nil
}

// ParseOutput extracts every STATUS line from the captured stdout of a remote
// command. Other lines are ignored; malformed STATUS lines are logged and
// skipped.
func ParseOutput(stdout string) []Status {
	var statuses []Status
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, statusPrefix) {
			continue
		}
		st, err := ParseStatusLine(line)
		if err != nil {
			glog.Warningf("Ignored malformed status line: %v", err)
			continue
		}
		statuses = append(statuses, st)
	}
	if err := scanner.Err(); err != nil {
		glog.Warningf("Failed to read command output: %v", err)
	}
	return statuses
}
