package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"rul-backend/pkg/api"
	"rul-backend/pkg/client"
	"syscall"
	"text/tabwriter"
	"time"
)

const usage = `usage: rulctl [-server URL] <command> [flags]

commands:
  predict [-limit n] [-o file]          predict on the base dataset
  custom -file f [-limit n] [-o file]   upload f and predict on it
  retrain                               train a challenger model
  runs [-retrain] [-limit n]            list prediction or retrain runs
`

func printJson(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("error printing response: %v", err)
	}
}

func printPrediction(res api.PredictionResponse) {
	fmt.Printf("run %s (%s): %d rows\n", res.RunId, res.Context, res.TotalRows)
	if s := res.Summary; s != nil {
		fmt.Printf("%s: min=%.2f max=%.2f mean=%.2f median=%.2f\n", s.Column, s.Min, s.Max, s.Mean, s.Median)
	}
}

func download(ctx context.Context, c *client.Client, runContext, output string) {
	if output == "" {
		return
	}

	f, err := os.Create(output)
	if err != nil {
		log.Fatalf("error creating output file: %v", err)
	}
	defer f.Close()

	n, err := c.WithProgress(os.Stderr).Download(ctx, runContext, f)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Printf("saved %d bytes to %s\n", n, output)
}

func predict(ctx context.Context, c *client.Client, args []string) {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	limit := fs.Int("limit", 0, "number of preview rows")
	output := fs.String("o", "", "file to save the predictions to")
	fs.Parse(args) //nolint:errcheck

	res, err := c.PredictBase(ctx, *limit)
	if err != nil {
		log.Fatalf("%v", err)
	}
	printPrediction(res)
	download(ctx, c, client.BaseContext, *output)
}

func custom(ctx context.Context, c *client.Client, args []string) {
	fs := flag.NewFlagSet("custom", flag.ExitOnError)
	file := fs.String("file", "", "csv dataset to predict on")
	limit := fs.Int("limit", 0, "number of preview rows")
	output := fs.String("o", "", "file to save the predictions to")
	fs.Parse(args) //nolint:errcheck

	if *file == "" {
		log.Fatalf("custom requires -file")
	}

	upload, err := c.Upload(ctx, *file)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Printf("uploaded %s (%d bytes)\n", upload.FileName, upload.Size)

	res, err := c.PredictCustom(ctx, *limit)
	if err != nil {
		log.Fatalf("%v", err)
	}
	printPrediction(res)
	download(ctx, c, client.CustomContext, *output)
}

func retrain(ctx context.Context, c *client.Client) {
	res, err := c.Retrain(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}
	printJson(res)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func runs(ctx context.Context, c *client.Client, args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	retrainRuns := fs.Bool("retrain", false, "list retrain runs instead of prediction runs")
	limit := fs.Int("limit", 0, "max number of runs")
	fs.Parse(args) //nolint:errcheck

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if *retrainRuns {
		list, err := c.ListRetrainRuns(ctx, *limit)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Fprintln(w, "ID\tTRIGGER\tOUTCOME\tREASON\tCREATED\tCOMPLETED")
		for _, run := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", run.Id, run.Trigger, run.Outcome, run.Reason, run.CreationTime.Format(time.RFC3339), formatTime(run.CompletionTime))
		}
		return
	}

	list, err := c.ListPredictions(ctx, *limit)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Fprintln(w, "ID\tCONTEXT\tSTATUS\tROWS\tFAILURE\tCREATED\tCOMPLETED")
	for _, run := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n", run.Id, run.Context, run.Status, run.RowCount, run.FailureKind, run.CreationTime.Format(time.RFC3339), formatTime(run.CompletionTime))
	}
}

func main() {
	log.SetFlags(0)

	server := flag.String("server", "http://localhost:8001", "backend url")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(*server)

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "predict":
		predict(ctx, c, args)
	case "custom":
		custom(ctx, c, args)
	case "retrain":
		retrain(ctx, c)
	case "runs":
		runs(ctx, c, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
}
