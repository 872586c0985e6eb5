// Package tortest runs the current test binary as a stand-in tor daemon.
//
// A test package opts in from TestMain:
//
//	func TestMain(m *testing.M) { os.Exit(tortest.Main(m)) }
//
// and passes tortest.Binary() to tor.WithTorBinary. When the supervisor
// executes the binary with tor's command line, Main serves a working SOCKS5
// relay on --SocksPort and a minimal control protocol on --ControlPort
// (AUTHENTICATE with the cookie file, GETINFO status/bootstrap-phase) until
// it is killed.
package tortest

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/nao1215/torcrawl/internal/socks5test"
)

const (
	// EnvFakeTor marks a process started as the fake daemon.
	EnvFakeTor = "TORCRAWL_FAKE_TOR"

	// StuckMarker is a file name; when it exists in the data directory the
	// fake daemon reports bootstrap progress 50 forever.
	StuckMarker = "fake_bootstrap_stuck"

	// ArgsFile is written to the data directory with one argument per line.
	ArgsFile = "fake_tor_args.txt"

	// maxLifetime bounds an orphaned fake daemon.
	maxLifetime = 2 * time.Minute
)

// Main runs the fake daemon when the process was started as one, and the
// tests otherwise. Its result is the process exit code.
func Main(m *testing.M) int {
	if os.Getenv(EnvFakeTor) == "1" {
		return run(os.Args[1:])
	}
	if err := os.Setenv(EnvFakeTor, "1"); err != nil {
		fmt.Fprintln(os.Stderr, "tortest:", err)
		return 1
	}
	return m.Run()
}

// Binary returns the path of the running test binary.
func Binary() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return os.Args[0]
}

var (
	portMu   sync.Mutex
	usedBase = map[int]bool{}
)

// FreePortRange returns a base port such that base .. base+count-1 were all
// free when probed. Bases handed out in this process never overlap.
func FreePortRange(tb testing.TB, count int) int {
	tb.Helper()

	portMu.Lock()
	defer portMu.Unlock()

	const lo, hi = 20000, 60000
	for range 200 {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo-count)))
		if err != nil {
			tb.Fatalf("tortest: %v", err)
		}
		base := lo + int(n.Int64())
		if overlaps(base, count) || !rangeFree(base, count) {
			continue
		}
		for p := base; p < base+count; p++ {
			usedBase[p] = true
		}
		return base
	}
	tb.Fatalf("tortest: no free range of %d ports", count)
	return 0
}

func overlaps(base, count int) bool {
	for p := base; p < base+count; p++ {
		if usedBase[p] {
			return true
		}
	}
	return false
}

func rangeFree(base, count int) bool {
	var lc net.ListenConfig
	listeners := make([]net.Listener, 0, count)
	defer func() {
		for _, l := range listeners {
			_ = l.Close()
		}
	}()
	for p := base; p < base+count; p++ {
		l, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p)))
		if err != nil {
			return false
		}
		listeners = append(listeners, l)
	}
	return true
}

// flags holds the tor options the fake daemon understands.
type flags struct {
	socksAddr   string
	controlAddr string
	dataDir     string
	cookieFile  string
	logFiles    []string
}

func parseFlags(args []string) flags {
	var f flags
	for i := 0; i+1 < len(args); i += 2 {
		switch args[i] {
		case "--SocksPort":
			f.socksAddr = args[i+1]
		case "--ControlPort":
			f.controlAddr = args[i+1]
		case "--DataDirectory":
			f.dataDir = args[i+1]
		case "--CookieAuthFile":
			f.cookieFile = args[i+1]
		case "--Log":
			if _, path, ok := strings.Cut(args[i+1], " file "); ok {
				f.logFiles = append(f.logFiles, path)
			}
		}
	}
	return f
}

func run(args []string) int {
	f := parseFlags(args)
	if f.socksAddr == "" || f.controlAddr == "" || f.dataDir == "" {
		fmt.Fprintln(os.Stderr, "fake tor: missing --SocksPort, --ControlPort or --DataDirectory")
		return 1
	}

	_ = os.WriteFile(filepath.Join(f.dataDir, ArgsFile), []byte(strings.Join(args, "\n")), 0o600)

	cookie := make([]byte, 32)
	if _, err := rand.Read(cookie); err != nil {
		return 1
	}
	if f.cookieFile != "" {
		if err := os.WriteFile(f.cookieFile, cookie, 0o600); err != nil {
			fmt.Fprintln(os.Stderr, "fake tor:", err)
			return 1
		}
	}
	for _, path := range f.logFiles {
		_ = os.WriteFile(path, []byte("[notice] Bootstrapped 100% (done): Done\n"), 0o600)
	}

	socks, err := socks5test.Listen(f.socksAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fake tor: could not bind SocksPort:", err)
		return 1
	}
	defer socks.Close()

	var lc net.ListenConfig
	control, err := lc.Listen(context.Background(), "tcp", f.controlAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fake tor: could not bind ControlPort:", err)
		return 1
	}
	defer control.Close()

	stuck := false
	if _, err := os.Stat(filepath.Join(f.dataDir, StuckMarker)); err == nil {
		stuck = true
	}
	go serveControl(control, strings.ToUpper(hex.EncodeToString(cookie)), stuck)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
	case <-time.After(maxLifetime):
	}
	return 0
}

func serveControl(ln net.Listener, cookieHex string, stuck bool) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go handleControl(conn, cookieHex, stuck)
	}
}

func handleControl(conn net.Conn, cookieHex string, stuck bool) {
	defer conn.Close()

	progress := 100
	if stuck {
		progress = 50
	}

	authenticated := false
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	for {
		line, err := rw.ReadString('\n')
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")

		var reply string
		switch strings.ToUpper(cmd) {
		case "AUTHENTICATE":
			if strings.EqualFold(arg, cookieHex) {
				authenticated = true
				reply = "250 OK\r\n"
			} else {
				reply = "515 Authentication failed\r\n"
			}
		case "GETINFO":
			switch {
			case !authenticated:
				reply = "514 Authentication required.\r\n"
			case arg == "status/bootstrap-phase":
				reply = fmt.Sprintf("250-status/bootstrap-phase=NOTICE BOOTSTRAP PROGRESS=%d TAG=done SUMMARY=\"Done\"\r\n250 OK\r\n", progress)
			default:
				reply = "552 Unrecognized key \"" + arg + "\"\r\n"
			}
		case "QUIT":
			_, _ = rw.WriteString("250 closing connection\r\n")
			_ = rw.Flush()
			return
		default:
			reply = "510 Unrecognized command \"" + cmd + "\"\r\n"
		}

		if _, err := rw.WriteString(reply); err != nil {
			return
		}
		if err := rw.Flush(); err != nil {
			return
		}
	}
}
