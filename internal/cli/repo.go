package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var repoLsCmd = &cobra.Command{
	Use:   "repo-ls [path]",
	Short: "List one directory inside the configured repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := buildRepo(cmd)
		if err != nil {
			return err
		}
		path := repo.Base
		if len(args) == 1 {
			path = args[0]
		}
		entries, err := repo.Driver.List(cmd.Context(), path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			kind := "f"
			if e.IsDir {
				kind = "d"
			}
			cmd.Printf("%s %10d %s %s\n", kind, e.Size, e.ModTime.Format("2006-01-02 15:04:05"), e.Name)
		}
		return nil
	},
}

var repoGetCmd = &cobra.Command{
	Use:   "repo-get <repo-path> <local-path>",
	Short: "Copy one file out of the repository onto local disk, uninterpreted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := buildRepo(cmd)
		if err != nil {
			return err
		}
		r, err := repo.Driver.Open(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer r.Close()
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(f, r)
		return err
	},
}

var repoPutCmd = &cobra.Command{
	Use:   "repo-put <local-path> <repo-path>",
	Short: "Copy one local file into the repository, uninterpreted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := buildRepo(cmd)
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		w, err := repo.Driver.Create(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, f); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	},
}

var repoRmCmd = &cobra.Command{
	Use:   "repo-rm <repo-path>",
	Short: "Remove one path from the repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := buildRepo(cmd)
		if err != nil {
			return err
		}
		return repo.Driver.Remove(cmd.Context(), args[0])
	},
}
