package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/openmined/blobdispatch/internal/docblob"
	"github.com/openmined/blobdispatch/internal/utils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put FILE",
		Short: "Store a file as the blob of a document property and print its blob info",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			repository, _ := cmd.Flags().GetString("repository")
			docType, _ := cmd.Flags().GetString("doc-type")
			xpath, _ := cmd.Flags().GetString("xpath")
			mimeType, _ := cmd.Flags().GetString("mime-type")
			asJSON, _ := cmd.Flags().GetBool("json")

			path, err := utils.ResolvePath(args[0])
			if err != nil {
				return err
			}
			src, err := fileBlob(path, mimeType)
			if err != nil {
				return err
			}

			mgr, err := newManager(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeManager(mgr)

			doc := docblob.DocRef{DocType: docType, RepositoryName: repository}
			info, err := mgr.StoreBlob(cmd.Context(), src, doc, xpath)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s (%s) as %s\n",
				green("stored"), src.Filename(), humanize.IBytes(uint64(max(info.Length, 0))), cyan(info.Key))
			return printInfo(cmd.OutOrStdout(), info, asJSON)
		},
	}

	cmd.Flags().StringP("repository", "r", "default", "Repository of the owning document")
	cmd.Flags().StringP("doc-type", "t", "File", "Type of the owning document")
	cmd.Flags().StringP("xpath", "x", "file:content", "Property path of the blob in the document")
	cmd.Flags().StringP("mime-type", "m", "", "Mime type, detected from the content when empty")
	cmd.Flags().Bool("json", false, "Print the blob info as JSON instead of YAML")
	return cmd
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Write the content stored under a blob key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			repository, _ := cmd.Flags().GetString("repository")
			output, _ := cmd.Flags().GetString("output")

			mgr, err := newManager(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeManager(mgr)

			mb, err := mgr.ReadBlob(cmd.Context(), &blob.BlobInfo{Key: args[0], Length: -1}, repository)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				rc, err := mb.Open()
				if err != nil {
					return err
				}
				defer rc.Close()
				_, err = io.Copy(cmd.OutOrStdout(), rc)
				return err
			}

			data, err := blob.ReadAll(mb)
			if err != nil {
				return err
			}
			if err := utils.WriteFileAtomic(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s from %s to %s\n",
				green("wrote"), humanize.IBytes(uint64(len(data))), cyan(mb.ProviderID()), output)
			return nil
		},
	}

	cmd.Flags().StringP("repository", "r", "", "Repository whose default provider reads unprefixed keys")
	cmd.Flags().StringP("output", "o", "", "Output file, stdout when empty")
	return cmd
}

// fileBlob wraps path, sniffing the mime type when none is given
func fileBlob(path, mimeType string) (*blob.FileBlob, error) {
	if mimeType == "" {
		head, err := readHead(path, 512)
		if err != nil {
			return nil, err
		}
		mimeType = utils.SniffContentType(path, head)
	}
	mimeType, charset := utils.SplitContentType(mimeType)

	return blob.NewFileBlob(path,
		blob.WithMimeType(mimeType),
		blob.WithEncoding(charset),
		blob.WithFilename(filepath.Base(path)),
	)
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, n)
	read, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return head[:read], nil
}

func printInfo(w io.Writer, info *blob.BlobInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(info); err != nil {
		return err
	}
	return enc.Close()
}
