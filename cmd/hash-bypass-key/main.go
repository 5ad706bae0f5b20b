// Command hash-bypass-key prints the bcrypt hash to put in BYPASS_KEY_HASH.
// With -verify it checks a key against the configured hash instead.
package main

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/stemsi/mockdrive-backend/internal/config"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const minKeyLength = 12

func main() {
	verify := flag.Bool("verify", false, "Check a key against BYPASS_KEY_HASH instead of hashing")
	flag.Parse()

	cfg := config.Load()

	if *verify {
		if cfg.BypassKeyHash == "" {
			fail("BYPASS_KEY_HASH is not set")
		}
		key, err := readKey("Bypass key: ", os.Stdin)
		if err != nil {
			fail(err.Error())
		}
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.BypassKeyHash), key); err != nil {
			fail("key does not match BYPASS_KEY_HASH")
		}
		fmt.Println("Key matches.")
		return
	}

	key, err := readKey("New bypass key: ", os.Stdin)
	if err != nil {
		fail(err.Error())
	}
	if len(key) < minKeyLength {
		fail(fmt.Sprintf("key must be at least %d characters", minKeyLength))
	}
	if isTerminal() {
		again, err := readKey("Repeat key: ", os.Stdin)
		if err != nil {
			fail(err.Error())
		}
		if !bytes.Equal(key, again) {
			fail("keys do not match")
		}
	}

	hash, err := bcrypt.GenerateFromPassword(key, cfg.BcryptCost)
	if err != nil {
		fail(err.Error())
	}
	fmt.Println(string(hash))
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// readKey reads without echo from a terminal, or one line from a pipe.
func readKey(prompt string, in io.Reader) ([]byte, error) {
	if isTerminal() {
		fmt.Fprint(os.Stderr, prompt)
		key, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		return key, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read key: %w", err)
	}
	key := strings.TrimRight(line, "\r\n")
	if key == "" {
		return nil, errors.New("empty key")
	}
	return []byte(key), nil
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	os.Exit(1)
}
