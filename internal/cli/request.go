package cli

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRequestCmd создаёт группу команд для управления requests.
func NewRequestCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Manage document retrieval requests",
	}

	cmd.AddCommand(
		newRequestCreateCmd(clientFn, outputFn),
		newRequestListCmd(clientFn, outputFn),
		newRequestShowCmd(clientFn, outputFn),
		newRequestCancelCmd(clientFn, outputFn),
		newRequestTasksCmd(clientFn, outputFn),
		newRequestEventsCmd(clientFn, outputFn),
		newRequestArtifactsCmd(clientFn, outputFn),
	)

	return cmd
}

func newRequestCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var clientID string
	var portal string
	var file string

	cmd := &cobra.Command{
		Use:   "create [CASE_NUMBER...]",
		Short: "Create a batch request",
		Long: `Create a batch document retrieval request.

Case numbers are taken from arguments or, with --file, one per line
from a text file (blank lines are skipped).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			caseNumbers := args
			if file != "" {
				fromFile, err := readCaseNumbersFile(file)
				if err != nil {
					return err
				}
				caseNumbers = append(caseNumbers, fromFile...)
			}
			if len(caseNumbers) == 0 {
				return fmt.Errorf("no case numbers given")
			}

			req, err := client.CreateRequest(CreateRequestRequest{
				ClientID:    clientID,
				Portal:      portal,
				CaseNumbers: caseNumbers,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Request %s created (%d items)", req.ID, req.ItemsTotal))
			out.Print(
				[]string{"ID", "PORTAL", "STATUS", "ITEMS"},
				[][]string{{req.ID, req.Portal, req.Status, strconv.Itoa(req.ItemsTotal)}},
				req,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Client identifier (required)")
	cmd.Flags().StringVar(&portal, "portal", "", "Portal system (required)")
	cmd.Flags().StringVar(&file, "file", "", "File with case numbers, one per line")
	cmd.MarkFlagRequired("client-id")
	cmd.MarkFlagRequired("portal")

	return cmd
}

func newRequestListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var clientID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			requests, err := client.ListRequests(ListRequestsOpts{
				ClientID: clientID,
				Status:   status,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "CLIENT", "PORTAL", "STATUS", "PROGRESS", "CREATED"}
			rows := make([][]string, len(requests))
			for i, r := range requests {
				rows[i] = []string{
					r.ID,
					r.ClientID,
					r.Portal,
					r.Status,
					fmt.Sprintf("%d/%d", r.ItemsProcessed, r.ItemsTotal),
					r.CreatedAt,
				}
			}

			out.Print(headers, rows, requests)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Filter by client")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, COMPLETED, FAILED, PARTIAL_NO_RESULTS, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRequestShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show REQUEST_ID",
		Short: "Show request details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req, err := client.GetRequest(args[0])
			if err != nil {
				return err
			}

			headers := []string{"FIELD", "VALUE"}
			rows := [][]string{
				{"ID", req.ID},
				{"Client", req.ClientID},
				{"Portal", req.Portal},
				{"Status", req.Status},
				{"Items total", strconv.Itoa(req.ItemsTotal)},
				{"Processed", strconv.Itoa(req.ItemsProcessed)},
				{"Succeeded", strconv.Itoa(req.ItemsSucceeded)},
				{"Failed", strconv.Itoa(req.ItemsFailed)},
				{"Created", req.CreatedAt},
			}
			if req.StartedAt != "" {
				rows = append(rows, []string{"Started", req.StartedAt})
			}
			if req.CompletedAt != "" {
				rows = append(rows, []string{"Completed", req.CompletedAt})
			}

			out.Print(headers, rows, req)
			return nil
		},
	}
}

func newRequestCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel REQUEST_ID",
		Short: "Cancel a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req, err := client.CancelRequest(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Request %s cancelled", req.ID))
			out.Print(
				[]string{"ID", "STATUS"},
				[][]string{{req.ID, req.Status}},
				req,
			)
			return nil
		},
	}
}

func newRequestTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks REQUEST_ID",
		Short: "List tasks of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "CASE_NUMBER", "STATUS", "ATTEMPT", "ARTIFACTS", "ERROR"}
			rows := make([][]string, len(tasks))
			for i, t := range tasks {
				rows[i] = []string{
					t.ID,
					t.CaseNumber,
					t.Status,
					strconv.Itoa(t.Attempt),
					strconv.Itoa(t.ArtifactCount),
					t.Error,
				}
			}

			out.Print(headers, rows, tasks)
			return nil
		},
	}
}

func newRequestEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "events REQUEST_ID",
		Short: "Show the event log of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			events, err := client.ListEvents(args[0])
			if err != nil {
				return err
			}

			headers := []string{"TYPE", "PROCESSED", "SUCCESS", "ERROR", "CREATED"}
			rows := make([][]string, len(events))
			for i, ev := range events {
				rows[i] = []string{
					ev.Type,
					strconv.FormatBool(ev.Processed),
					strconv.FormatBool(ev.Success),
					ev.Error,
					ev.CreatedAt,
				}
			}

			out.Print(headers, rows, events)
			return nil
		},
	}
}

func newRequestArtifactsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "artifacts REQUEST_ID",
		Short: "List artifacts of a request with download URLs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			artifacts, err := client.ListArtifacts(args[0])
			if err != nil {
				return err
			}

			headers := []string{"NAME", "CATEGORY", "SIZE", "URL"}
			rows := make([][]string, len(artifacts))
			for i, a := range artifacts {
				rows[i] = []string{a.Name, a.Category, strconv.FormatInt(a.Size, 10), a.URL}
			}

			out.Print(headers, rows, artifacts)
			return nil
		},
	}
}

// NewPortalsCmd создаёт команду для просмотра поддерживаемых порталов.
func NewPortalsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "portals",
		Short: "List supported portal systems",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			portals, err := client.ListPortals()
			if err != nil {
				return err
			}

			rows := make([][]string, len(portals))
			for i, p := range portals {
				rows[i] = []string{p}
			}

			out.Print([]string{"PORTAL"}, rows, portals)
			return nil
		},
	}
}

// readCaseNumbersFile читает номера процессов из файла, по одному на строку.
func readCaseNumbersFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open case numbers file: %w", err)
	}
	defer f.Close()

	var numbers []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		numbers = append(numbers, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read case numbers file: %w", err)
	}
	return numbers, nil
}
