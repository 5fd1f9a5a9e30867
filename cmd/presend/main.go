package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/renvik/presend/internal/bus"
	"github.com/renvik/presend/pkg/mcp"
	"github.com/renvik/presend/pkg/schema"
)

const usage = `presend - render HTTP request templates before they are sent

Usage:
  presend render <document>   Render a request document and print the result
  presend send <document>     Render a request document and execute it
  presend eval <template>     Evaluate a single template string
  presend serve               Run the MCP stdio server
  presend version             Print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if os.Args[1] == "version" {
		printVersion()
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "presend:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "presend:", err)
		os.Exit(1)
	}
	defer a.close()

	switch os.Args[1] {
	case "render":
		err = runRender(ctx, a, os.Args[2:])
	case "send":
		err = runSend(ctx, a, os.Args[2:])
	case "eval":
		err = runEval(ctx, a, os.Args[2:])
	case "serve":
		err = runServe(ctx, a)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "presend:", err)
		os.Exit(1)
	}
}

// runRender renders a request document through the event bus and prints
// the rendered record as JSON.
func runRender(ctx context.Context, a *app, args []string) error {
	rendered, err := renderDocument(ctx, a, args)
	if err != nil {
		return err
	}
	return printJSON(rendered)
}

// runSend renders a request document and executes it.
func runSend(ctx context.Context, a *app, args []string) error {
	rendered, err := renderDocument(ctx, a, args)
	if err != nil {
		return err
	}
	resp, err := a.sender.Send(ctx, rendered)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

// runEval evaluates one template string via the on-demand event.
func runEval(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: presend eval <template>")
	}

	detail := &schema.EvaluateDetail{Value: args[0]}
	a.dispatcher.Dispatch(ctx, bus.NewEvent(schema.EventEvaluate, detail))
	if detail.Result == nil {
		return fmt.Errorf("no evaluator handled the request")
	}

	awaitCtx, cancel := context.WithTimeout(ctx, awaitTimeout)
	defer cancel()
	val, err := detail.Result.Await(awaitCtx)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"value": val})
}

// runServe runs the MCP stdio server until the context is cancelled.
func runServe(ctx context.Context, a *app) error {
	srv := mcp.NewPresendServer(mcp.PresendServerDeps{
		Hook:      a.hook,
		Sender:    a.sender,
		Store:     a.primaryStore(),
		Validator: a.validator,
		Logger:    a.logger,
	})
	a.logger.Info("mcp server listening on stdio")
	return srv.Serve(ctx)
}

// renderDocument loads, validates, and renders a document through the
// dispatched before-send event, exactly as an embedding client would.
func renderDocument(ctx context.Context, a *app, args []string) (*schema.Request, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: presend %s <document>", os.Args[1])
	}

	req, overrides, err := loadDocument(args[0])
	if err != nil {
		return nil, err
	}
	if err := a.validator.ValidateRequest(req); err != nil {
		return nil, err
	}

	detail := &schema.BeforeSendDetail{Request: req, Overrides: overrides}
	a.dispatcher.Dispatch(ctx, bus.NewEvent(schema.EventBeforeRequestSend, detail))

	promises := detail.Promises()
	if len(promises) == 0 {
		return nil, fmt.Errorf("no renderer handled the request")
	}

	awaitCtx, cancel := context.WithTimeout(ctx, awaitTimeout)
	defer cancel()
	val, err := promises[0].Await(awaitCtx)
	if err != nil {
		return nil, err
	}
	return val.(*schema.Request), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
