// Command gflexkey encrypts an account password into a file that gflexbot
// reads through [user] encrypted_password_path.
//
// The account password and the key password are read from the environment
// variables named by -password-env and -key-env, or from the first two lines
// of stdin when those are unset.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/gflexbot/internal/secret"
)

func main() {
	out := flag.String("out", "password.json", "path of the encrypted password file")
	passwordEnv := flag.String("password-env", "GFLEX_PASSWORD", "environment variable holding the account password")
	keyEnv := flag.String("key-env", "GFLEX_USER_KEY_PASSWORD", "environment variable holding the key password")
	verify := flag.Bool("verify", false, "decrypt -out with the key password instead of writing it")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := run(*out, *passwordEnv, *keyEnv, *verify, os.Stdin); err != nil {
		logger.Error("gflexkey failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("gflexkey done", slog.String("path", *out), slog.Bool("verify", *verify))
}

func run(out, passwordEnv, keyEnv string, verify bool, stdin io.Reader) error {
	lines := bufio.NewScanner(stdin)
	next := func(env string) string {
		if v := os.Getenv(env); v != "" {
			return v
		}
		if lines.Scan() {
			return strings.TrimRight(lines.Text(), "\r")
		}
		return ""
	}

	if verify {
		data, err := os.ReadFile(out)
		if err != nil {
			return fmt.Errorf("read %s: %w", out, err)
		}
		if _, err := secret.Decrypt(data, next(keyEnv)); err != nil {
			return err
		}
		return nil
	}

	password := next(passwordEnv)
	keyPassword := next(keyEnv)
	data, err := secret.Encrypt(password, keyPassword)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}
