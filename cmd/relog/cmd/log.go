// Package cmd 提供 relog 命令行工具的所有子命令实现。
// 本文件实现 log 命令，用于记录一个错误。
package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oriys/relog/internal/domain"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Log an error",
	Long: `Log an error and print the id assigned by the error log.

The error is either built from flags or read from an error XML file.

Examples:
  # Log an error built from flags
  relog log --type System.ApplicationException --message "payment failed" --status-code 500

  # Attach form values and server variables
  relog log --type TimeoutError --message "upstream timed out" --form amount=12.50 --server-var HTTP_HOST=shop.example.com

  # Log an error XML document (use - for stdin)
  relog log --file error.xml`,
	Args: cobra.NoArgs,
	RunE: runLog,
}

var logFlags struct {
	file       string
	errType    string
	message    string
	source     string
	detail     string
	user       string
	host       string
	statusCode int
	form       map[string]string
	query      map[string]string
	serverVars map[string]string
	cookies    map[string]string
}

func init() {
	rootCmd.AddCommand(logCmd)

	f := logCmd.Flags()
	f.StringVarP(&logFlags.file, "file", "f", "", "Error XML file to log (- for stdin)")
	f.StringVarP(&logFlags.errType, "type", "t", "Error", "Error type")
	f.StringVarP(&logFlags.message, "message", "m", "", "Error message")
	f.StringVar(&logFlags.source, "source", "", "Source of the error")
	f.StringVar(&logFlags.detail, "detail", "", "Error detail (defaults to \"<type>: <message>\")")
	f.StringVar(&logFlags.user, "user", "", "User associated with the error")
	f.StringVar(&logFlags.host, "host", "", "Host name (defaults to the local host name)")
	f.IntVar(&logFlags.statusCode, "status-code", 0, "HTTP status code")
	f.StringToStringVar(&logFlags.form, "form", nil, "Form values (name=value)")
	f.StringToStringVar(&logFlags.query, "query", nil, "Query string values (name=value)")
	f.StringToStringVar(&logFlags.serverVars, "server-var", nil, "Server variables (name=value)")
	f.StringToStringVar(&logFlags.cookies, "cookie", nil, "Cookies (name=value)")
}

func runLog(cmd *cobra.Command, args []string) error {
	printer, err := NewPrinter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	e, err := errorFromFlags(cmd.InOrStdin())
	if err != nil {
		return err
	}
	if e.ApplicationName == "" {
		e.ApplicationName = viper.GetString("application")
	}

	ctx := commandContext(cmd)
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.log.Log(ctx, e)
	if err != nil {
		return fmt.Errorf("failed to log error: %w", err)
	}
	return printer.PrintID(id)
}

// errorFromFlags 从 --file 读取错误 XML，或者根据标志构造错误
func errorFromFlags(stdin io.Reader) (*domain.Error, error) {
	if logFlags.file != "" {
		var data []byte
		var err error
		if logFlags.file == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(logFlags.file)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", logFlags.file, err)
		}
		return domain.DecodeErrorXML(data)
	}

	if logFlags.message == "" {
		return nil, fmt.Errorf("--message is required when --file is not set")
	}

	host := logFlags.host
	if host == "" {
		host, _ = os.Hostname()
	}
	detail := logFlags.detail
	if detail == "" {
		detail = logFlags.errType + ": " + logFlags.message
	}

	return &domain.Error{
		HostName:        host,
		Type:            logFlags.errType,
		Message:         logFlags.message,
		Source:          logFlags.source,
		Detail:          detail,
		User:            logFlags.user,
		Time:            time.Now().UTC(),
		StatusCode:      logFlags.statusCode,
		ServerVariables: nameValues(logFlags.serverVars),
		QueryString:     nameValues(logFlags.query),
		Form:            nameValues(logFlags.form),
		Cookies:         nameValues(logFlags.cookies),
	}, nil
}

// nameValues 把标志中的键值对按名称排序后转换为 NameValues
func nameValues(m map[string]string) domain.NameValues {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(domain.NameValues, 0, len(names))
	for _, name := range names {
		out = append(out, domain.NameValue{Name: name, Value: m[name]})
	}
	return out
}
