package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/pkg/capture"
	"github.com/engramhq/engram/pkg/memory"
)

var captureFlags struct {
	namespace string
	summary   string
	content   string
	spec      string
	commit    string
	tags      []string
	phase     string
	status    string
	relatesTo []string
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture a memory and attach it to a commit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.capture.Capture(cmd.Context(), capture.Request{
			Namespace: memory.Namespace(captureFlags.namespace),
			Summary:   captureFlags.summary,
			Content:   captureFlags.content,
			Spec:      captureFlags.spec,
			Commit:    captureFlags.commit,
			Tags:      captureFlags.tags,
			Phase:     captureFlags.phase,
			Status:    captureFlags.status,
			RelatesTo: captureFlags.relatesTo,
		})
		if err != nil {
			return err
		}

		// A fresh capture can invalidate cached search results.
		a.optimizer.InvalidateNamespace(memory.Namespace(captureFlags.namespace))

		return printJSON(result)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <memory-id>",
	Short: "Resolve a blocker, appending resolution text to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolution, err := cmd.Flags().GetString("resolution")
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		mem, err := a.capture.ResolveBlocker(cmd.Context(), args[0], resolution)
		if err != nil {
			return err
		}
		a.optimizer.InvalidateNamespace(memory.NamespaceBlockers)
		return printJSON(mem)
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureFlags.namespace, "namespace", "n", "", "memory namespace (required)")
	captureCmd.Flags().StringVarP(&captureFlags.summary, "summary", "s", "", "one-line summary (required)")
	captureCmd.Flags().StringVarP(&captureFlags.content, "content", "c", "", "memory body (required)")
	captureCmd.Flags().StringVar(&captureFlags.spec, "spec", "", "spec identifier grouping this memory")
	captureCmd.Flags().StringVar(&captureFlags.commit, "commit", "HEAD", "commit to attach to")
	captureCmd.Flags().StringSliceVar(&captureFlags.tags, "tags", nil, "tags")
	captureCmd.Flags().StringVar(&captureFlags.phase, "phase", "", "workflow phase")
	captureCmd.Flags().StringVar(&captureFlags.status, "status", "", "status, e.g. unresolved for blockers")
	captureCmd.Flags().StringSliceVar(&captureFlags.relatesTo, "relates-to", nil, "related memory IDs")
	captureCmd.MarkFlagRequired("namespace")
	captureCmd.MarkFlagRequired("summary")
	captureCmd.MarkFlagRequired("content")

	resolveCmd.Flags().StringP("resolution", "r", "", "resolution text (required)")
	resolveCmd.MarkFlagRequired("resolution")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(resolveCmd)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
