// Command bondctl signs and submits escrow commands to a bond escrow node and
// manages encrypted operator key files.
//
//	bondctl submit -op postBond -args '{"bond_id":1}'
//	bondctl get /api/params
//	bondctl encrypt-key -out key.json
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/bondescrow/internal/crypto"
	"github.com/alanyoungcy/bondescrow/internal/server/middleware"
	"github.com/alanyoungcy/bondescrow/internal/service"
)

const requestTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "submit":
		err = runSubmit(os.Args[2:])
	case "get":
		err = runGet(os.Args[2:])
	case "address":
		err = runAddress(os.Args[2:])
	case "encrypt-key":
		err = runEncryptKey(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "bondctl: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "bondctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: bondctl <command> [flags]

commands:
  submit       sign and submit a command to POST /api/tx
  get          fetch a query endpoint, e.g. /api/bonds/1
  address      print the address of the configured key
  encrypt-key  write an encrypted key file

ops: `+strings.Join(service.Ops(), ", "))
}

// keyFlags registers the key source flags shared by the signing commands.
func keyFlags(fs *flag.FlagSet) *crypto.KeyConfig {
	cfg := &crypto.KeyConfig{}
	fs.StringVar(&cfg.RawPrivateKey, "key", os.Getenv("BONDCTL_PRIVATE_KEY"), "hex private key (env BONDCTL_PRIVATE_KEY)")
	fs.StringVar(&cfg.EncryptedKeyPath, "key-file", os.Getenv("BONDCTL_KEY_FILE"), "encrypted key file (env BONDCTL_KEY_FILE)")
	fs.StringVar(&cfg.KeyPassword, "password", os.Getenv("BONDCTL_KEY_PASSWORD"), "key file password (env BONDCTL_KEY_PASSWORD)")
	return cfg
}

func nodeFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("BONDCTL_NODE")
	if def == "" {
		def = "http://localhost:8000"
	}
	return fs.String("node", def, "node base URL (env BONDCTL_NODE)")
}

func runSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	keyCfg := keyFlags(fs)
	node := nodeFlag(fs)
	op := fs.String("op", "", "operation name")
	opArgs := fs.String("args", "{}", "operation arguments as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *op == "" {
		return errors.New("submit: -op is required")
	}
	if !json.Valid([]byte(*opArgs)) {
		return errors.New("submit: -args is not valid JSON")
	}

	signer, err := crypto.LoadSigner(*keyCfg)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	body, err := json.Marshal(service.Command{Op: *op, Args: json.RawMessage(*opArgs)})
	if err != nil {
		return fmt.Errorf("submit: encode command: %w", err)
	}
	ts := time.Now().Unix()
	sig, err := signer.SignRequest(ts, body)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(*node, "/")+"/api/tx", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(middleware.HeaderSignature, sig)
	return do(req)
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	node := nodeFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("get: expected one path, e.g. /api/params")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	path := "/" + strings.TrimLeft(fs.Arg(0), "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(*node, "/")+path, nil)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	return do(req)
}

func runAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	keyCfg := keyFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if keyCfg.RawPrivateKey == "" && keyCfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(keyCfg.EncryptedKeyPath)
		if err != nil {
			return fmt.Errorf("address: %w", err)
		}
		addr, err := crypto.KeyFileAddress(data)
		if err != nil {
			return fmt.Errorf("address: %w", err)
		}
		fmt.Println(addr.Hex())
		return nil
	}
	signer, err := crypto.LoadSigner(*keyCfg)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	fmt.Println(signer.Address().Hex())
	return nil
}

func runEncryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	key := fs.String("key", os.Getenv("BONDCTL_PRIVATE_KEY"), "hex private key (env BONDCTL_PRIVATE_KEY)")
	password := fs.String("password", os.Getenv("BONDCTL_KEY_PASSWORD"), "encryption password (env BONDCTL_KEY_PASSWORD)")
	out := fs.String("out", "key.json", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("encrypt-key: -key is required")
	}

	blob, err := crypto.EncryptKey(*key, *password)
	if err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("encrypt-key: write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", *out)
	return nil
}

// do sends req and prints the indented JSON response. Non-2xx responses are
// printed and returned as errors.
func do(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	fmt.Println(string(data))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	return nil
}
