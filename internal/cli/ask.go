package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docchat/internal/logging"
	"docchat/internal/models"
	"docchat/internal/service/conversation"
	"docchat/internal/service/orphan"
	"docchat/internal/session"
)

type askOptions struct {
	file         string
	assistantID  string
	name         string
	model        string
	instructions string
	noColor      bool
	verbose      bool
}

func newAskCmd(root *rootOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Start an interactive question session about a document",
		Long: `Upload a document and ask questions about it in the terminal.

With --assistant-id (or a configured default assistant) the existing assistant is
used and never deleted. Otherwise a new assistant is created and deleted again
when the session ends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runAsk(ctx, root, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Document to upload (.md, .markdown, .txt)")
	cmd.Flags().StringVar(&opts.assistantID, "assistant-id", "", "Use an existing assistant")
	cmd.Flags().StringVar(&opts.name, "name", "", "Name for a new assistant")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model for a new assistant")
	cmd.Flags().StringVar(&opts.instructions, "instructions", "", "Instructions for a new assistant ({file} is replaced)")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show run status changes")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (o *askOptions) initRequest(defaultID string) conversation.InitRequest {
	req := conversation.InitRequest{
		Mode:       conversation.ModeCreateNew,
		ExistingID: o.assistantID,
		Config: conversation.AssistantConfig{
			Name:         o.name,
			Model:        o.model,
			Instructions: o.instructions,
		},
	}
	if o.assistantID != "" || defaultID != "" {
		req.Mode = conversation.ModeUseExisting
	}
	return req
}

func runAsk(parent context.Context, root *rootOptions, opts *askOptions, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	r := newRenderer(out, opts.noColor, opts.verbose)

	prov, err := newProvider(root.cfg)
	if err != nil {
		return err
	}
	if prov == nil {
		return conversation.ErrMissingAPIKey
	}
	data, err := os.ReadFile(opts.file)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	var ledger *orphan.Ledger
	if l, db, err := openLedger(root.cfg); err != nil {
		logging.Warn().Err(err).Msg("orphan ledger unavailable; leftovers are only logged")
	} else {
		ledger = l
		defer db.Close()
	}

	svc := conversation.NewService(prov, session.NewMemoryStore(0), recorder(ledger), conversation.OptionsFromConfig(root.cfg))
	snap, err := svc.CreateSession(ctx)
	if err != nil {
		return err
	}
	sid := snap.SessionID
	defer func() {
		// remove a created assistant even after Ctrl-C
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := svc.DeleteSession(cleanupCtx, sid); err != nil {
			r.Error(err)
		}
	}()

	req := opts.initRequest(svc.DefaultAssistantID())
	first := req
	first.Upload = &models.Upload{Name: filepath.Base(opts.file), Data: data}
	snap, err = svc.Initialize(ctx, sid, first)
	if err != nil {
		return err
	}
	r.Banner(snap)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	hooks := &conversation.ReplyHooks{Status: r.Status}
	for {
		r.Prompt()
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := svc.Reset(ctx, sid); err != nil {
				r.Error(err)
				continue
			}
			// the cached document is attached again
			snap, err := svc.Initialize(ctx, sid, req)
			if err != nil {
				r.Error(err)
				continue
			}
			r.Info("session reset")
			r.Banner(snap)
			continue
		}

		reply, err := svc.SendAndAwaitReply(ctx, sid, line, hooks)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(out)
				return nil
			}
			r.Error(err)
			continue
		}
		r.Assistant(reply)
	}
}
