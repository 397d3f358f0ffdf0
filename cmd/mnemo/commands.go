package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/mnemo/internal/config"
)

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage user profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user_id>",
	Short: "Show a user profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/users/"+url.PathEscape(args[0])+"/profile")
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <user_id> <json>",
	Short: "Update profile fields from a JSON object",
	Long: `Update profile fields from a JSON object.

Example:
  mnemo profile set user_001 '{"preferences":{"language":"en","communication_style":"casual"}}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, updateJSON := args[0], args[1]

		var fields map[string]any
		if err := json.Unmarshal([]byte(updateJSON), &fields); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/users/"+url.PathEscape(userID)+"/profile", fields)
		if err != nil {
			return err
		}

		var updated any
		if err := decodeJSON(resp, &updated); err != nil {
			return err
		}

		printSuccess("Profile updated for %s", userID)
		return nil
	},
}

var profileSummaryCmd = &cobra.Command{
	Use:   "summary <user_id>",
	Short: "Show a compact text summary of a user profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/users/"+url.PathEscape(args[0])+"/summary")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result["summary"])
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <user_id>",
	Short: "Delete a user profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete the profile for %s. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/users/"+url.PathEscape(args[0])+"/profile")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Profile deleted for %s", args[0])
		return nil
	},
}

func init() {
	profileDeleteCmd.Flags().Bool("confirm", false, "confirm profile deletion")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileSummaryCmd)
	profileCmd.AddCommand(profileDeleteCmd)
}

// --- remember ---

var rememberCmd = &cobra.Command{
	Use:   "remember <subject> <predicate> <object>",
	Short: "Store a fact in semantic memory",
	Long: `Store a subject-predicate-object fact in semantic memory.

Example:
  mnemo remember alice lives_in Amsterdam --confidence 0.9`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		confidence, _ := cmd.Flags().GetFloat64("confidence")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"subject":    args[0],
			"predicate":  args[1],
			"object":     args[2],
			"confidence": confidence,
			"source":     "cli",
		}
		resp, err := client.post(cmd.Context(), "/facts", body)
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored fact: %s %s %s", args[0], args[1], args[2])
		return nil
	},
}

func init() {
	rememberCmd.Flags().Float64("confidence", 1.0, "confidence in [0,1]")
}

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search facts or episodes in long-term memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		kind, _ := cmd.Flags().GetString("kind")
		userID, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		switch kind {
		case "facts":
			path := fmt.Sprintf("/facts?q=%s&limit=%d", url.QueryEscape(query), limit)
			resp, err := client.get(cmd.Context(), path)
			if err != nil {
				return err
			}

			var facts []struct {
				Subject   string  `json:"subject"`
				Predicate string  `json:"predicate"`
				Object    string  `json:"object"`
				Relevance float64 `json:"relevance"`
			}
			if err := decodeJSON(resp, &facts); err != nil {
				return err
			}

			if len(facts) == 0 {
				fmt.Println("No results found.")
				return nil
			}
			for _, f := range facts {
				fmt.Printf("%s  %s %s %s\n",
					colorize(colorCyan, fmt.Sprintf("[%.2f]", f.Relevance)),
					f.Subject, colorize(colorBold, f.Predicate), f.Object)
			}
			return nil

		case "episodes":
			body := map[string]string{"description": query, "user_id": userID}
			resp, err := client.post(cmd.Context(), "/episodes/recall", body)
			if err != nil {
				return err
			}

			var episodes []struct {
				ID          string  `json:"id"`
				UserID      string  `json:"user_id"`
				Description string  `json:"description"`
				Similarity  float64 `json:"similarity"`
			}
			if err := decodeJSON(resp, &episodes); err != nil {
				return err
			}

			if len(episodes) == 0 {
				fmt.Println("No results found.")
				return nil
			}
			for _, e := range episodes {
				desc := e.Description
				if len(desc) > 120 {
					desc = desc[:120] + "..."
				}
				fmt.Printf("%s  %s  %s\n",
					colorize(colorCyan, fmt.Sprintf("[%.2f]", e.Similarity)),
					e.UserID, desc)
			}
			return nil

		default:
			return fmt.Errorf("unknown kind %q (want facts or episodes)", kind)
		}
	},
}

func init() {
	recallCmd.Flags().String("kind", "facts", `what to search: "facts" or "episodes"`)
	recallCmd.Flags().String("user", "", "restrict episode recall to one user")
	recallCmd.Flags().Int("limit", 10, "maximum number of fact results")
}

// --- episodes ---

var episodesCmd = &cobra.Command{
	Use:   "episodes",
	Short: "Manage episodic memory",
}

var episodesAddCmd = &cobra.Command{
	Use:   "add <user_id> <description>",
	Short: "Store an episode and queue fact extraction",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType, _ := cmd.Flags().GetString("type")
		importance, _ := cmd.Flags().GetFloat64("importance")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"user_id":     args[0],
			"event_type":  eventType,
			"description": strings.Join(args[1:], " "),
			"importance":  importance,
		}
		resp, err := client.post(cmd.Context(), "/episodes", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored episode %s", result["id"])
		return nil
	},
}

var episodesListCmd = &cobra.Command{
	Use:   "list <user_id>",
	Short: "List a user's recent episodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		daysBack, _ := cmd.Flags().GetInt("days")
		eventType, _ := cmd.Flags().GetString("type")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/episodes?user_id=%s&days_back=%d", url.QueryEscape(args[0]), daysBack)
		if eventType != "" {
			path += "&event_type=" + url.QueryEscape(eventType)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var episodes []struct {
			ID          string  `json:"id"`
			EventType   string  `json:"event_type"`
			Description string  `json:"description"`
			Timestamp   string  `json:"timestamp"`
			Importance  float64 `json:"importance_score"`
		}
		if err := decodeJSON(resp, &episodes); err != nil {
			return err
		}

		if len(episodes) == 0 {
			fmt.Println("No episodes found.")
			return nil
		}
		for _, e := range episodes {
			desc := e.Description
			if len(desc) > 80 {
				desc = desc[:80] + "..."
			}
			fmt.Printf("%s  %s  %-12s  %s\n",
				colorize(colorCyan, e.ID[:8]),
				e.Timestamp, e.EventType, desc)
		}
		return nil
	},
}

func init() {
	episodesAddCmd.Flags().String("type", "conversation", "event type")
	episodesAddCmd.Flags().Float64("importance", 0.5, "importance in [0,1]")
	episodesListCmd.Flags().Int("days", 30, "how many days back to list")
	episodesListCmd.Flags().String("type", "", "filter by event type")
	episodesCmd.AddCommand(episodesAddCmd)
	episodesCmd.AddCommand(episodesListCmd)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest content into episodic memory",
	Long: `Ingest content into episodic memory.

Examples:
  mnemo ingest --user user_001 --text "Met Alice at the Go meetup"
  mnemo ingest --user user_001 --url https://example.com/article
  mnemo ingest --user user_001 --file ./notes.pdf --title "Meeting notes"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		text, _ := cmd.Flags().GetString("text")
		urlStr, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		importance, _ := cmd.Flags().GetFloat64("importance")

		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		if text == "" && urlStr == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		req := map[string]any{
			"user_id":    userID,
			"importance": importance,
		}
		if title != "" {
			req["title"] = title
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case urlStr != "":
			req["type"] = "url"
			req["url"] = urlStr
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["type"] = "file"
			req["content"] = base64.StdEncoding.EncodeToString(data)
			if title == "" {
				req["title"] = file
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ingest", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored episode %s", result["id"])
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("user", "", "user the content belongs to")
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest (PDF text is extracted)")
	ingestCmd.Flags().String("title", "", "title for the episode")
	ingestCmd.Flags().Float64("importance", 0.5, "importance in [0,1]")
}

// --- cleanup ---

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run a forgetting pass over long-term memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Running memory cleanup...")
		resp, err := client.post(cmd.Context(), "/cleanup", nil)
		if err != nil {
			return err
		}

		var result struct {
			OldEpisodes        int `json:"old_episodes_removed"`
			TrimmedEpisodes    int `json:"trimmed_episodes_removed"`
			LowConfidenceFacts int `json:"low_confidence_facts_removed"`
			UnusedFacts        int `json:"unused_facts_removed"`
			StaleProfiles      int `json:"stale_profiles_removed"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printStatus("Old episodes", "%d", result.OldEpisodes)
		printStatus("Trimmed episodes", "%d", result.TrimmedEpisodes)
		printStatus("Low-confidence facts", "%d", result.LowConfidenceFacts)
		printStatus("Unused facts", "%d", result.UnusedFacts)
		printStatus("Stale profiles", "%d", result.StaleProfiles)
		printSuccess("Cleanup finished")
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory usage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats struct {
			TotalEpisodes        int     `json:"total_episodes"`
			UniqueUsers          int     `json:"unique_users"`
			AvgEpisodeImportance float64 `json:"avg_episode_importance"`
			TotalFacts           int     `json:"total_facts"`
			AvgFactConfidence    float64 `json:"avg_fact_confidence"`
			TotalEntities        int     `json:"total_entities"`
			TotalRelationships   int     `json:"total_relationships"`
			TotalProfiles        int     `json:"total_profiles"`
			MemoryUsagePercent   float64 `json:"memory_usage_percent"`
			LastCleanup          string  `json:"last_cleanup"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Episodes", "%d (%d users, avg importance %.2f)",
			stats.TotalEpisodes, stats.UniqueUsers, stats.AvgEpisodeImportance)
		printStatus("Facts", "%d (avg confidence %.2f)", stats.TotalFacts, stats.AvgFactConfidence)
		printStatus("Entities", "%d", stats.TotalEntities)
		printStatus("Relationships", "%d", stats.TotalRelationships)
		printStatus("Profiles", "%d", stats.TotalProfiles)
		printStatus("Memory usage", "%.1f%%", stats.MemoryUsagePercent)
		if stats.LastCleanup != "" {
			printStatus("Last cleanup", "%s", stats.LastCleanup)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
