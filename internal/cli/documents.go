package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/quizforge/quizforge/internal/client"
)

var (
	documentsTitle string
	documentsLimit int
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage source documents",
}

var documentsAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Upload a text file as a ready document",
	Long: `Upload extracted text as a document. Use "-" to read from stdin.

Examples:
  quizforge documents add notes.txt
  pdftotext syllabus.pdf - | quizforge documents add - --title "Syllabus"`,
	Args: cobra.ExactArgs(1),
	RunE: runDocumentsAdd,
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE:  runDocumentsList,
}

var documentsShowCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Show a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentsShow,
}

func init() {
	documentsAddCmd.Flags().StringVar(&documentsTitle, "title", "", "document title (defaults to the filename)")
	documentsListCmd.Flags().IntVar(&documentsLimit, "limit", 20, "maximum documents to list")

	documentsCmd.AddCommand(documentsAddCmd)
	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsShowCmd)
}

func runDocumentsAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var text []byte
	var err error
	input := client.CreateDocumentInput{}

	if args[0] == "-" {
		text, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	} else {
		text, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		filename := filepath.Base(args[0])
		input.Filename = &filename
	}

	if documentsTitle != "" {
		input.Title = &documentsTitle
	} else if input.Filename != nil {
		input.Title = input.Filename
	}
	input.Text = string(text)

	doc, err := apiClient.CreateDocument(ctx, input)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	fmt.Printf("Document %v created (%d words, status %s)\n", doc.ID.ID, doc.WordCount, doc.Status)
	return nil
}

func runDocumentsList(cmd *cobra.Command, args []string) error {
	docs, err := apiClient.ListDocuments(context.Background(), documentsLimit)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	if len(docs) == 0 {
		fmt.Println("No documents found")
		return nil
	}

	fmt.Printf("%-14s %-12s %8s  %s\n", "ID", "STATUS", "WORDS", "TITLE")
	fmt.Println("--------------------------------------------------------------")
	for _, d := range docs {
		title := ""
		if d.Title != nil {
			title = *d.Title
		}
		fmt.Printf("%-14v %-12s %8d  %s\n", d.ID.ID, d.Status, d.WordCount, title)
	}
	return nil
}

func runDocumentsShow(cmd *cobra.Command, args []string) error {
	doc, err := apiClient.GetDocument(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}

	fmt.Printf("Document: %v\n", doc.ID.ID)
	if doc.Title != nil {
		fmt.Printf("  Title: %s\n", *doc.Title)
	}
	if doc.Filename != nil {
		fmt.Printf("  Filename: %s\n", *doc.Filename)
	}
	fmt.Printf("  Status: %s\n", doc.Status)
	fmt.Printf("  Words: %d\n", doc.WordCount)
	if doc.PageCount > 0 {
		fmt.Printf("  Pages: %d (%d extracted)\n", doc.PageCount, doc.PagesExtracted)
	}
	fmt.Printf("  Created: %s\n", doc.CreatedAt.Format(time.RFC3339))
	return nil
}
