// Package prompt asks for the values a run needs when they were not given as
// flags or environment.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/civil"
	"golang.org/x/term"

	"github.com/example/testsched/internal/domain/booking"
)

type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	// readSecret reads a line without echo; nil falls back to a plain line read.
	readSecret func() ([]byte, error)
}

// New reads from in and writes questions to out. When in is a terminal,
// passwords are read without echo.
func New(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: bufio.NewReader(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		p.readSecret = func() ([]byte, error) { return term.ReadPassword(fd) }
	}
	return p
}

func (p *Prompter) line() (string, error) {
	s, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// Text asks question until a non-empty answer is given.
func (p *Prompter) Text(question string) (string, error) {
	for {
		fmt.Fprintf(p.out, "%s ", question)
		s, err := p.line()
		if err != nil {
			return "", err
		}
		if s != "" {
			return s, nil
		}
	}
}

func (p *Prompter) Password(question string) (string, error) {
	for {
		fmt.Fprintf(p.out, "%s ", question)
		var s string
		if p.readSecret != nil {
			b, err := p.readSecret()
			fmt.Fprintln(p.out)
			if err != nil {
				return "", err
			}
			s = strings.TrimSpace(string(b))
		} else {
			var err error
			if s, err = p.line(); err != nil {
				return "", err
			}
		}
		if s != "" {
			return s, nil
		}
	}
}

// Date asks for a YYYY-MM-DD date. A blank answer returns the zero date.
func (p *Prompter) Date(question string) (civil.Date, error) {
	for {
		fmt.Fprintf(p.out, "%s (YYYY-MM-DD, blank for none) ", question)
		s, err := p.line()
		if err != nil {
			return civil.Date{}, err
		}
		if s == "" {
			return civil.Date{}, nil
		}
		d, err := civil.ParseDate(s)
		if err == nil {
			return d, nil
		}
		fmt.Fprintf(p.out, "%q is not a valid date\n", s)
	}
}

// Locations asks for a comma separated site list; blank means all sites.
func (p *Prompter) Locations(question string) ([]string, error) {
	fmt.Fprintf(p.out, "%s ", question)
	s, err := p.line()
	if err != nil {
		return nil, err
	}
	return booking.ParseLocations(s), nil
}

// Window asks for the first and last acceptable day until last is not before first.
func (p *Prompter) Window() (first, last civil.Date, err error) {
	for {
		if first, err = p.Date("What is the first day you can take the test?"); err != nil {
			return
		}
		if last, err = p.Date("What is the last day you can take the test?"); err != nil {
			return
		}
		if booking.IsZeroDate(first) || booking.IsZeroDate(last) || !last.Before(first) {
			return
		}
		fmt.Fprintln(p.out, "the last day must not be before the first day")
	}
}
