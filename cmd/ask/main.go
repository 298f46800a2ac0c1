package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"AssistantGateway/internal/app/backend"
	"AssistantGateway/internal/app/requester"
	"AssistantGateway/internal/config"

	"go.uber.org/zap"
)

// fileList: повторяемый флаг -file.
type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ",") }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

// Разовый вопрос ассистенту из командной строки:
//
//	ask -prompt "Fasse das Exposé zusammen" -file expose.txt
//
// Остальные флаги и переменные окружения: как у сервера.
func main() {
	var prompt string
	var files fileList
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	fs.StringVar(&prompt, "prompt", "", "Question for the assistant")
	fs.Var(&files, "file", "Document to attach (repeatable)")

	// свои флаги отделяем от флагов конфигурации
	own, rest := splitArgs(os.Args[1:], "prompt", "file")
	_ = fs.Parse(own)
	cfg := config.NewConfig(rest)

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	sugar := logger.Sugar()
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := requester.New(backend.NewGateway(cfg.Assistant, sugar), sugar)
	attachments, err := req.LoadAttachments(files)
	if err != nil {
		sugar.Errorw("failed to load attachments", "error", err)
		os.Exit(2)
	}
	if strings.TrimSpace(prompt) == "" && len(attachments) == 0 {
		fmt.Fprintln(os.Stderr, "prompt or -file is required")
		os.Exit(2)
	}

	if _, err := req.Ask(ctx, prompt, attachments, os.Stdout); err != nil {
		fmt.Println()
		if errors.Is(err, context.Canceled) {
			sugar.Infow("cancelled")
		} else {
			sugar.Errorw("assistant request failed", "error", err)
		}
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
	fmt.Println()
}

// splitArgs отделяет аргументы с указанными именами флагов от остальных.
func splitArgs(args []string, names ...string) (own []string, rest []string) {
	isOwn := func(arg string) (bool, bool) {
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			return false, false
		}
		name, _, hasValue := strings.Cut(name, "=")
		for _, n := range names {
			if n == name {
				return true, hasValue
			}
		}
		return false, false
	}
	for i := 0; i < len(args); i++ {
		ok, hasValue := isOwn(args[i])
		if !ok {
			rest = append(rest, args[i])
			continue
		}
		own = append(own, args[i])
		if !hasValue && i+1 < len(args) {
			i++
			own = append(own, args[i])
		}
	}
	return own, rest
}
