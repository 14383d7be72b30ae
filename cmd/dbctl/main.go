// Command dbctl is a small flag-driven admin CLI against an Axon SQLite
// database, for operators who want to inspect or nudge task state without
// going through a transport. Kept as the same shape as the teacher's own
// dbctl (single -action flag, -db path, optional -json output) and retargeted
// from agent heartbeat bookkeeping to task coordination.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/axon-run/axon/internal/coordination"
	"github.com/axon-run/axon/internal/store"
)

func main() {
	dbPath := flag.String("db", "axon.sqlite", "path to the axon sqlite database")
	action := flag.String("action", "", "action to perform: get-task, list-tasks, archive-task")
	code := flag.String("code", "", "task code (get-task, archive-task)")
	owner := flag.String("owner", "", "filter by owner (list-tasks)")
	state := flag.String("state", "", "filter by state (list-tasks)")
	limit := flag.Int("limit", 20, "max rows (list-tasks)")
	offset := flag.Int("offset", 0, "row offset (list-tasks)")
	jsonOutput := flag.Bool("json", false, "output as JSON")
	flag.Parse()

	if *action == "" {
		fmt.Fprintf(os.Stderr, "Usage: dbctl -db <path> -action <get-task|list-tasks|archive-task> [flags]\n")
		os.Exit(1)
	}

	s, err := store.Open(*dbPath, 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	ctx := context.Background()

	switch *action {
	case "get-task":
		if *code == "" {
			fmt.Fprintln(os.Stderr, "get-task requires -code")
			os.Exit(1)
		}
		task, err := s.GetTaskByCode(ctx, *code)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to get task: %v\n", err)
			os.Exit(1)
		}
		printTask(task, *jsonOutput)

	case "list-tasks":
		filter := store.TaskFilter{Limit: *limit, Offset: *offset}
		if *owner != "" {
			filter.Owner = owner
		}
		if *state != "" {
			st := coordination.TaskState(*state)
			filter.State = &st
		}
		tasks, err := s.ListTasks(ctx, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list tasks: %v\n", err)
			os.Exit(1)
		}
		if *jsonOutput {
			json.NewEncoder(os.Stdout).Encode(tasks)
			return
		}
		for _, t := range tasks {
			fmt.Printf("%s\t%s\t%s\t%s\n", t.Code, t.Name, t.State, ownerOf(t.Owner))
		}

	case "archive-task":
		if *code == "" {
			fmt.Fprintln(os.Stderr, "archive-task requires -code")
			os.Exit(1)
		}
		task, err := s.GetTaskByCode(ctx, *code)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to find task: %v\n", err)
			os.Exit(1)
		}
		updated, err := s.TransitionTask(ctx, task.ID, task.State, coordination.StateArchived, false, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to archive task: %v\n", err)
			os.Exit(1)
		}
		printTask(updated, *jsonOutput)

	default:
		fmt.Fprintf(os.Stderr, "Unknown action: %s\n", *action)
		os.Exit(1)
	}
}

func printTask(t *coordination.Task, jsonOutput bool) {
	if jsonOutput {
		json.NewEncoder(os.Stdout).Encode(t)
		return
	}
	fmt.Printf("id=%d code=%s name=%q state=%s owner=%s\n", t.ID, t.Code, t.Name, t.State, ownerOf(t.Owner))
}

func ownerOf(owner *string) string {
	if owner == nil {
		return "-"
	}
	return *owner
}
