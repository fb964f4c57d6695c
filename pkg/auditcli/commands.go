package auditcli

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func newQueryCmd(client *apiClient) *cobra.Command {
	var (
		startTime    string
		endTime      string
		subjectID    string
		subjectEmail string
		resourceID   string
		resourceType string
		action       string
		decision     string
		severity     string
		limit        int
		offset       int
		sortBy       string
		sortOrder    string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query decision records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			setIf(q, "start_time", startTime)
			setIf(q, "end_time", endTime)
			setIf(q, "subject_id", subjectID)
			setIf(q, "subject_email", subjectEmail)
			setIf(q, "resource_id", resourceID)
			setIf(q, "resource_type", resourceType)
			setIf(q, "action", action)
			setIf(q, "decision", decision)
			setIf(q, "severity", severity)
			setIf(q, "sort_by", sortBy)
			setIf(q, "sort_order", sortOrder)
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}

			var result map[string]any
			if err := client.do(http.MethodGet, "/v1/decisions", q, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&startTime, "start", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&endTime, "end", "", "window end (RFC3339)")
	cmd.Flags().StringVar(&subjectID, "subject-id", "", "filter by subject id")
	cmd.Flags().StringVar(&subjectEmail, "subject-email", "", "filter by subject email")
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "filter by resource id")
	cmd.Flags().StringVar(&resourceType, "resource-type", "", "filter by resource type")
	cmd.Flags().StringVar(&action, "action", "", "filter by action")
	cmd.Flags().StringVar(&decision, "decision", "", "filter by decision (allow, deny, not_applicable, indeterminate)")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (max 1000)")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	cmd.Flags().StringVar(&sortBy, "sort-by", "", "sort column")
	cmd.Flags().StringVar(&sortOrder, "sort-order", "", "asc or desc")

	return cmd
}

func newStatsCmd(client *apiClient) *cobra.Command {
	var startTime, endTime string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate decision statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			setIf(q, "start_time", startTime)
			setIf(q, "end_time", endTime)

			var result map[string]any
			if err := client.do(http.MethodGet, "/v1/decisions/stats", q, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&startTime, "start", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&endTime, "end", "", "window end (RFC3339)")

	return cmd
}

func newPurgeCmd(client *apiClient) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete records older than the given number of days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			q.Set("older_than_days", strconv.Itoa(days))

			var result map[string]any
			if err := client.do(http.MethodDelete, "/v1/decisions", q, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().IntVar(&days, "older-than-days", 0, "purge records older than this many days (required)")
	_ = cmd.MarkFlagRequired("older-than-days")

	return cmd
}

func newExportHealthCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "export-health",
		Short: "Probe the configured SIEM exporter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var result map[string]any
			if err := client.do(http.MethodGet, "/v1/export/health", nil, &result); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
