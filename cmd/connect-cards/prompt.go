package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/joseph-ayodele/connect-cards/internal/session"
)

type recoveryChoice int

const (
	choiceNone recoveryChoice = iota
	choiceResume
	choiceDiscard
)

var errRecoveryUndecided = errors.New("an unfinished scan session exists; rerun with --resume or --discard")

func isInteractive(r io.Reader) bool {
	file, ok := r.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// promptRecovery asks whether to resume or discard a stale session. It never
// picks for the user: unreadable or blank answers ask again until EOF.
func promptRecovery(in io.Reader, out io.Writer, stale *session.ScanSession) (recoveryChoice, error) {
	fmt.Fprintln(out, "An unfinished scan session was found:")
	fmt.Fprintln(out, renderKeyValues(sessionPairs(stale)))
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "Resume it or discard it? [r/d]: ")
		line, err := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "r", "resume":
			return choiceResume, nil
		case "d", "discard":
			return choiceDiscard, nil
		}
		if err != nil {
			return choiceNone, errRecoveryUndecided
		}
	}
}

func sessionPairs(s *session.ScanSession) [][2]string {
	batch := s.BatchName
	if batch == "" {
		batch = "-"
	}
	location := s.LocationID
	if location == "" {
		location = "-"
	}
	return [][2]string{
		{"Card type", string(s.CardType)},
		{"Location", location},
		{"Batch", batch},
		{"Cards scanned", strconv.Itoa(s.CardsScanned)},
		{"Complete", strconv.Itoa(s.Complete)},
		{"Duplicate", strconv.Itoa(s.Duplicate)},
		{"Failed", strconv.Itoa(s.Failed)},
		{"Started", s.StartedAt.Local().Format("2006-01-02 15:04")},
		{"Last change", s.UpdatedAt.Local().Format("2006-01-02 15:04")},
	}
}
