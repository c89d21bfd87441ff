// Command voipcored runs the session and media-negotiation core as a
// standalone daemon process: it loads configuration, opens the local
// store, wires the account list and call registry to the ICE/UPnP
// subsystems, and serves the IPC bus used by the surrounding signalling
// backend. A second instance refuses to start while the PID file is held.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voipcore/internal/account"
	"github.com/petervdpas/voipcore/internal/callengine"
	"github.com/petervdpas/voipcore/internal/config"
	"github.com/petervdpas/voipcore/internal/history"
	"github.com/petervdpas/voipcore/internal/ice"
	"github.com/petervdpas/voipcore/internal/ipaddr"
	"github.com/petervdpas/voipcore/internal/ipcbus"
	"github.com/petervdpas/voipcore/internal/storage"
	"github.com/petervdpas/voipcore/internal/upnp"
	"github.com/petervdpas/voipcore/internal/util"
)

var log = logging.Logger("voipcored")

const appVersion = "dev"

var (
	console    = flag.Bool("c", false, "Log to console instead of a file")
	debug      = flag.Bool("d", false, "Enable debug logging")
	persistent = flag.Bool("p", false, "Stay resident after the last account is removed")
	showHelp   = flag.Bool("h", false, "Show help")
	version    = flag.Bool("v", false, "Show version")
	configPath = flag.String("config", "", "Path to the configuration file (default $HOME/.voipcored.json)")
)

func main() {
	flag.BoolVar(console, "console", *console, "Log to console instead of a file")
	flag.BoolVar(debug, "debug", *debug, "Enable debug logging")
	flag.BoolVar(persistent, "persistent", *persistent, "Stay resident after the last account is removed")
	flag.Parse()

	if *version {
		fmt.Printf("voipcored v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	if *debug {
		logging.SetAllLoggers(logging.LevelDebug)
	} else {
		logging.SetAllLoggers(logging.LevelInfo)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voipcored: resolve home directory: %v\n", err)
		os.Exit(1)
	}
	pidPath := filepath.Join(home, ".voipcored.pid")
	pidFile, err := acquirePIDFile(pidPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voipcored: %v\n", err)
		os.Exit(1)
	}
	defer releasePIDFile(pidFile, pidPath)

	if err := run(home); err != nil {
		log.Errorf("voipcored: %v", err)
		os.Exit(1)
	}
}

func run(home string) error {
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(home, ".voipcored.json")
	}
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if created {
		log.Infof("wrote default configuration to %s", cfgPath)
	}

	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(home, dbPath)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	accountStore := storage.NewAccountStore(db)
	historyStore := storage.NewHistoryStore(db)

	accounts := account.NewList(accountStore, accountStore)
	if err := accounts.Load(); err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	storeWatch, err := account.WatchStore(accounts, dbPath)
	if err != nil {
		log.Warnf("account store watch unavailable, external edits won't be picked up live: %v", err)
	} else {
		defer storeWatch.Close()
	}

	calls := callengine.NewRegistry()
	calls.OnTerminated(func(c *callengine.Call) {
		start, stop := c.StartStop()
		entry := history.Entry{
			CallID:       c.ID(),
			AccountID:    c.AccountID(),
			HistoryState: c.HistoryState().String(),
			PeerName:     c.PeerName(),
			PeerNumber:   c.PeerNumber(),
			StartTS:      start.Unix(),
			StopTS:       stop.Unix(),
			ConfID:       c.ConfID(),
			AddedTS:      stop.Unix(),
		}
		if err := historyStore.Append(entry); err != nil {
			log.Warnf("failed to persist call history for %s: %v", c.ID(), err)
		}
	})

	iceFactory := ice.NewFactory(ice.Config{STUNServers: cfg.ICE.STUNServers})
	defer iceFactory.Shutdown()

	var upnpController *upnp.Controller
	if cfg.UPnP.Enabled {
		localIP := localOutboundIP()
		if localIP.Defined() {
			if c, err := upnp.Discover(localIP); err != nil {
				log.Warnf("UPnP discovery failed, continuing without it: %v", err)
			} else {
				upnpController = c
				defer upnp.RemoveAll(upnpController, upnp.DefaultDescription)
			}
		} else {
			log.Warnf("could not determine a local IP for UPnP discovery, continuing without it")
		}
	}

	bus := ipcbus.New(accounts, calls)
	calls.SetSignaller(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Each inbound call gets its own two-component (RTP+RTCP) transport in
	// the controlled role; the remote initiator nominates. Brought up off
	// the dispatch path since candidate gathering takes real time.
	calls.OnIncoming(func(c *callengine.Call) {
		go func() {
			tr, err := iceFactory.CreateTransport(ctx, c.ID(), 2, false, upnpController)
			if err != nil {
				log.Warnf("ICE transport for call %s unavailable: %v", c.ID(), err)
				return
			}
			c.AttachTransport(tr)
		}()
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	mux := http.NewServeMux()
	mux.Handle("/ipc", bus)
	srv := &http.Server{Addr: cfg.IPC.ListenAddr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("IPC bus listening on %s", cfg.IPC.ListenAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), util.ShortTimeout)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		if err := accounts.Save(); err != nil {
			log.Warnf("failed to persist account order: %v", err)
		}
		return nil
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ipc bus: %w", err)
		}
		return nil
	}
}

// localOutboundIP returns the address this host would use to reach the
// public internet, without sending any traffic — the same trick UPnP
// discovery needs to pick a default gateway interface.
func localOutboundIP() ipaddr.IpAddr {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ipaddr.IpAddr{}
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ipaddr.IpAddr{}
	}
	return ipaddr.FromNetIP(addr.IP, 0)
}

func acquirePIDFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("PID file %s already exists, is another instance running?", path)
		}
		return nil, fmt.Errorf("create PID file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

func releasePIDFile(f *os.File, path string) {
	f.Close()
	os.Remove(path)
}

func showUsage() {
	fmt.Println("voipcored - session and media-negotiation core")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  voipcored [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -c, --console     Log to console instead of a file")
	fmt.Println("  -d, --debug       Enable debug logging")
	fmt.Println("  -p, --persistent  Stay resident after the last account is removed")
	fmt.Println("  -h                Show this help message")
	fmt.Println("  -v                Show version information")
	fmt.Println("  --config path     Use an explicit configuration file path")
}
