package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"firechat-backend/internal/client"
	"firechat-backend/internal/config"
	"firechat-backend/internal/model"
	"firechat-backend/internal/session"
	"firechat-backend/internal/utils"
	"firechat-backend/pkg/logger"
)

func main() {
	var configPath, baseURL string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.StringVar(&baseURL, "url", "", "服务地址，默认读取 client.base_url")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.InitWithOutput(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	if baseURL == "" {
		baseURL = cfg.Client.BaseURL
	}

	httpClient := client.New(baseURL, client.WithHTTPClient(utils.NewHTTPClient(cfg.Client.Timeout)))

	out := bufio.NewWriter(os.Stdout)
	// 被停止或出错时回复行没有换行
	var openLine bool
	ctrl := session.NewController(session.NewHTTPTransport(httpClient), session.New(),
		session.WithEventHook(func(ev model.StreamEvent) {
			switch ev.Type {
			case model.EventStart:
				openLine = true
				fmt.Fprint(out, "assistant> ")
			case model.EventDelta:
				fmt.Fprint(out, ev.Delta)
			case model.EventEnd:
				openLine = false
				fmt.Fprintln(out)
			}
			out.Flush()
		}))

	// 输出过程中 Ctrl-C 停止本次回复，空闲时退出
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range interrupts {
			if ctrl.Status() == session.StatusStreaming {
				ctrl.Stop()
				continue
			}
			os.Exit(0)
		}
	}()

	fmt.Println("Type a message and press enter. /clear resets the conversation, /quit exits.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()

		switch strings.TrimSpace(line) {
		case "/quit":
			return
		case "/clear":
			ctrl.Clear()
			fmt.Println("(conversation cleared)")
			continue
		}

		err := ctrl.SendMessage(context.Background(), line)
		if openLine {
			openLine = false
			fmt.Fprintln(out)
			out.Flush()
		}
		switch {
		case err == nil:
		case errors.Is(err, session.ErrEmptyMessage):
		default:
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
		}
	}
}
