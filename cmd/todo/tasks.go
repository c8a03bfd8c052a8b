package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"tododapp.mini/tdm/internal/client"
	"tododapp.mini/tdm/internal/types"
)

var (
	taskAddDescription string
	tasksAll           bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Manage your todo list",
}

var listCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create your todo list",
	Args:  cobra.NoArgs,
	RunE:  runListCreate,
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Add and complete tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task to your list",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAdd,
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <task-id>",
	Short: "Mark a task complete",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDone,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Show your tasks, newest first",
	Args:  cobra.NoArgs,
	RunE:  runTasks,
}

func init() {
	rootCmd.AddCommand(listCmd, taskCmd, tasksCmd)
	listCmd.AddCommand(listCreateCmd)
	taskCmd.AddCommand(taskAddCmd, taskDoneCmd)

	taskAddCmd.Flags().StringVarP(&taskAddDescription, "description", "d", "", "Task description")
	tasksCmd.Flags().BoolVarP(&tasksAll, "all", "a", false, "Include completed tasks")
}

func runListCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s, err := openSession()
	if err != nil {
		return err
	}
	ctrl, err := s.loadedController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	hash, err := ctrl.CreateList(ctx)
	if errors.Is(err, client.ErrListExists) {
		fmt.Fprintf(cmd.OutOrStdout(), "List already exists: %s\n", ctrl.Snapshot().List.ID)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Submitted create_todo_list (tx %s)\n", hash)
	return nil
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s, err := openSession()
	if err != nil {
		return err
	}
	ctrl, err := s.loadedController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	hash, err := ctrl.CreateTask(ctx, args[0], taskAddDescription)
	if errors.Is(err, client.ErrNoList) {
		return fmt.Errorf("%w: run 'todo list create' first", err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Submitted create_task (tx %s)\n", hash)
	return nil
}

func runTaskDone(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s, err := openSession()
	if err != nil {
		return err
	}
	if !s.cfg.Configured() {
		return client.ErrUnconfigured
	}
	ctrl := s.controller(s.cfg.PackageID)
	defer ctrl.Close()

	hash, err := ctrl.CompleteTask(ctx, types.ObjectID(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Submitted complete_task (tx %s)\n", hash)
	return nil
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	s, err := openSession()
	if err != nil {
		return err
	}
	ctrl, err := s.loadedController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	state := ctrl.Snapshot()
	out := cmd.OutOrStdout()
	if state.List == nil {
		fmt.Fprintln(out, "No todo list yet. Run 'todo list create'.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDONE\tCREATED\tTITLE")
	shown := 0
	for _, t := range state.Tasks {
		if t.Completed && !tasksAll {
			continue
		}
		done := " "
		if t.Completed {
			done = "x"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, done, formatMillis(t.CreatedAt), oneLine(t.Title))
		shown++
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if shown == 0 {
		fmt.Fprintln(out, "No tasks.")
	}
	return nil
}
