package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// prompter asks for input on stdin. Secrets are read without echo when stdin
// is a terminal; otherwise lines are read as is, which lets scripts pipe
// passwords in.
type prompter struct {
	in      io.Reader
	out     io.Writer
	scanner *bufio.Scanner
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: in, out: out}
}

func (p *prompter) terminal() (int, bool) {
	f, ok := p.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	return int(f.Fd()), true
}

func (p *prompter) Line(label string) (string, error) {
	if _, ok := p.terminal(); ok {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	return p.readLine()
}

func (p *prompter) Secret(label string) (string, error) {
	fd, ok := p.terminal()
	if !ok {
		return p.readLine()
	}
	fmt.Fprintf(p.out, "%s: ", label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *prompter) readLine() (string, error) {
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.in)
	}
	if p.scanner.Scan() {
		return strings.TrimRight(p.scanner.Text(), "\r"), nil
	}
	if err := p.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
