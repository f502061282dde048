package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tuskdev/tusk/internal/db"
	"github.com/tuskdev/tusk/internal/errors"
	"github.com/tuskdev/tusk/internal/transcript"
)

func transcriptDefaultDir(projectRoot string) (string, error) {
	return transcript.DefaultDir(projectRoot)
}

// newSessionCloseCmd creates the session-close command
func newSessionCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session-close <task-id>",
		Short: "Close a task's open session and attribute its cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			open, err := p.DB.OpenSession(taskID)
			if err != nil {
				return err
			}
			if open == nil {
				return errors.ErrRefused("task has no open session", "")
			}
			session, err := p.DB.CloseSession(open.ID, time.Now())
			if err != nil {
				return err
			}

			engine, err := costEngine(p)
			if err == nil {
				if _, aerr := engine.AttributeSession(session.ID); aerr == nil {
					session, _ = p.DB.GetSession(session.ID)
				} else {
					warnf("cost attribution failed: %v", aerr)
				}
			}
			return emit(session, func() {
				successf("Closed session %d ($%.4f, %d in / %d out tokens)",
					session.ID, session.CostDollars, session.TokensIn, session.TokensOut)
			})
		},
	}
}

// newSessionStatsCmd creates the session-stats command
func newSessionStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session-stats <task-id>",
		Short: "Show a task's sessions with per-tool breakdowns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			sessions, err := p.DB.ListSessions(taskID)
			if err != nil {
				return err
			}
			type sessionStats struct {
				Session *db.Session        `json:"session"`
				Tools   []*db.ToolCallStat `json:"tools,omitempty"`
			}
			var out []sessionStats
			for _, s := range sessions {
				tools, err := p.DB.ListToolCallStats(db.Owner{Kind: db.OwnerSession, ID: s.ID})
				if err != nil {
					return err
				}
				out = append(out, sessionStats{Session: s, Tools: tools})
			}
			return emit(out, func() {
				for _, st := range out {
					s := st.Session
					infof("session %d: $%.4f, %d in / %d out tokens",
						s.ID, s.CostDollars, s.TokensIn, s.TokensOut)
					for _, tool := range st.Tools {
						infof("  %s: %d calls, $%.4f total, $%.4f max",
							tool.ToolName, tool.CallCount, tool.TotalCost, tool.MaxCost)
					}
				}
			})
		},
	}
}

// newSessionRecalcCmd creates the session-recalc command
func newSessionRecalcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session-recalc <session-id>",
		Short: "Recompute one session's cost from transcripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			engine, err := costEngine(p)
			if err != nil {
				return err
			}
			tally, err := engine.AttributeSession(id)
			if err != nil {
				return err
			}
			return emit(tally, func() {
				successf("Session %d: $%.4f across %d requests (%s)",
					id, tally.Cost, tally.Requests, tally.Model)
			})
		},
	}
}

// newSkillRunCmd creates the skill-run command group
func newSkillRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skill-run",
		Short: "Track external skill-run windows",
	}

	start := &cobra.Command{
		Use:   "start <skill-name>",
		Short: "Open a skill-run window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			metadata, _ := cmd.Flags().GetString("metadata")
			id, err := p.DB.InsertSkillRun(args[0], time.Now(), metadata)
			if err != nil {
				return err
			}
			run, err := p.DB.GetSkillRun(id)
			if err != nil {
				return err
			}
			return emit(run, func() {
				successf("Started skill run %d (%s)", id, args[0])
			})
		},
	}
	start.Flags().String("metadata", "", "Free-form JSON metadata")

	finish := &cobra.Command{
		Use:   "finish <run-id>",
		Short: "Close a skill-run window and attribute its cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.DB.FinishSkillRun(id, time.Now()); err != nil {
				return err
			}
			engine, err := costEngine(p)
			if err == nil {
				if _, aerr := engine.AttributeSkillRun(id); aerr != nil {
					warnf("cost attribution failed: %v", aerr)
				}
			}
			run, err := p.DB.GetSkillRun(id)
			if err != nil {
				return err
			}
			return emit(run, func() {
				successf("Finished skill run %d ($%.4f)", id, run.CostDollars)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list [skill-name]",
		Short: "List skill runs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()

			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			runs, err := p.DB.ListSkillRuns(name)
			if err != nil {
				return err
			}
			return emit(runs, func() {
				for _, r := range runs {
					state := "open"
					if r.EndedAt != nil {
						state = "finished"
					}
					infof("run %d %s (%s): $%.4f", r.ID, r.SkillName, state, r.CostDollars)
				}
			})
		},
	}

	cmd.AddCommand(start, finish, list)
	return cmd
}

// newCallBreakdownCmd creates the call-breakdown command
func newCallBreakdownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call-breakdown",
		Short: "Recompute per-tool call stats for a target",
		Long: `Recompute tool-call attribution for one owner: a session, a skill
run, a criterion, or every session of a task.

Examples:
  tusk call-breakdown --session 4
  tusk call-breakdown --task 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, _ := cmd.Flags().GetInt64("task")
			sessionID, _ := cmd.Flags().GetInt64("session")
			runID, _ := cmd.Flags().GetInt64("skill-run")
			criterionID, _ := cmd.Flags().GetInt64("criterion")

			set := 0
			for _, v := range []int64{taskID, sessionID, runID, criterionID} {
				if v != 0 {
					set++
				}
			}
			if set != 1 {
				return errors.ErrInvalidInput("exactly one target is required",
					"pass one of --task, --session, --skill-run, --criterion")
			}

			p, err := openProject()
			if err != nil {
				return err
			}
			defer p.Close()
			engine, err := costEngine(p)
			if err != nil {
				return err
			}

			out := map[string]any{}
			switch {
			case sessionID != 0:
				tally, err := engine.AttributeSession(sessionID)
				if err != nil {
					return err
				}
				out["session"] = tally
			case runID != 0:
				tally, err := engine.AttributeSkillRun(runID)
				if err != nil {
					return err
				}
				out["skill_run"] = tally
			case criterionID != 0:
				tally, err := engine.AttributeCriterion(criterionID)
				if err != nil {
					return err
				}
				out["criterion"] = tally
			case taskID != 0:
				sessions, err := p.DB.ListSessions(taskID)
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					return errors.ErrRefused("task has no sessions", "")
				}
				byID := map[int64]any{}
				for _, s := range sessions {
					tally, err := engine.AttributeSession(s.ID)
					if err != nil {
						return err
					}
					byID[s.ID] = tally
				}
				out["sessions"] = byID
			}
			return emit(out, func() {
				successf("Recomputed tool-call attribution")
			})
		},
	}
	cmd.Flags().Int64("task", 0, "Recompute every session of this task")
	cmd.Flags().Int64("session", 0, "Recompute one session")
	cmd.Flags().Int64("skill-run", 0, "Recompute one skill run")
	cmd.Flags().Int64("criterion", 0, "Recompute one criterion")
	return cmd
}
