package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/callguardhq/callguard/internal/audit"
	"github.com/callguardhq/callguard/internal/llm"
	"github.com/callguardhq/callguard/internal/monitor"
	"github.com/callguardhq/callguard/internal/policy"
	"github.com/callguardhq/callguard/internal/recorder"
	"github.com/callguardhq/callguard/internal/supervisor"
)

var (
	servePolicyFile string
	servePolicyID   string
	serveCallLabel  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor server and a supervised console session",
	Long: `Starts the operator monitor websocket server and a supervised console
session: each line you type is treated as a caller turn, the agent's reply is
streamed through the judge, and operator commands arrive over the monitor
socket. Type "exit" or Ctrl-D to hang up.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePolicyFile, "policy", "", "policy YAML file to judge under")
	serveCmd.Flags().StringVar(&servePolicyID, "policy-id", "", "policy id to load from the policy store")
	serveCmd.Flags().StringVar(&serveCallLabel, "label", "console", "label for this call")
	serveCmd.MarkFlagsMutuallyExclusive("policy", "policy-id")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("judge client init failed: %w", err)
	}
	if !client.Enabled() {
		logger.Warn("No LLM provider configured; judge verdicts will fail open")
	}

	opts := supervisor.Options{Label: serveCallLabel}

	if servePolicyFile != "" {
		pol, err := policy.LoadFile(servePolicyFile)
		if err != nil {
			return err
		}
		opts.Policy = pol
		logger.WithField("policy", pol.Name).Info("Judging under policy")
	}
	if servePolicyID != "" {
		store, err := policy.OpenStore(cfg.Storage.PolicyStorePath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Store = store
		opts.PolicyID = servePolicyID
	}

	if cfg.Storage.RecordingPath != "" {
		opts.Recorder = recorder.New(cfg.Storage.RecordingPath)
	}
	if cfg.Storage.AuditPath != "" {
		opts.Audit = audit.New(cfg.Storage.AuditPath)
	}

	var monitorSrv *monitor.Server
	if cfg.Monitor.Port > 0 {
		monitorSrv = monitor.NewServer(cfg.Monitor.Port, nil)
		if err := monitorSrv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			monitorSrv.Stop(shutdownCtx)
		}()
		opts.Broadcaster = monitorSrv
		logger.WithField("addr", monitorSrv.Addr()).Info("Monitor listening")
	}

	session := newConsoleSession()
	sup := supervisor.New(session, client, cfg, opts)
	session.attach(ctx, sup, client)
	if monitorSrv != nil {
		monitorSrv.SetHandler(sup)
	}

	if err := sup.Start(); err != nil {
		return err
	}
	defer sup.End()

	fmt.Printf("Call %s started. Type caller turns; \"exit\" hangs up.\n", sup.CallID())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("caller> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" {
			break
		}
		if session.ended() || ctx.Err() != nil {
			break
		}
		sup.OnUserTurnCompleted(line)
		session.GenerateReply("")
	}

	sup.WaitIdle()
	fmt.Println("Call ended.")
	return scanner.Err()
}
