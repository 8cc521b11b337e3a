// Package cmd 提供 relog 命令行工具的所有子命令实现。
// 本文件实现输出格式化打印功能，支持多种输出格式。
//
// Printer 支持以下输出格式：
//   - table: 表格格式（默认），适合人类阅读
//   - json:  JSON 格式，适合程序处理
//   - yaml:  YAML 格式
//   - xml:   错误 XML，与远程 API 存储的格式一致
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/oriys/relog/internal/domain"
	"github.com/oriys/relog/internal/events"
)

// 输出格式
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatXML   = "xml"
)

// Printer 是格式化输出的处理器。
type Printer struct {
	format string
	writer io.Writer
}

// NewPrinter 创建输出到 w 的 Printer，格式取自 viper 的 output 配置。
func NewPrinter(w io.Writer) (*Printer, error) {
	format := strings.ToLower(viper.GetString("output"))
	switch format {
	case "":
		format = formatTable
	case formatTable, formatJSON, formatYAML, formatXML:
	default:
		return nil, fmt.Errorf("invalid --output %q (want table, json, yaml or xml)", format)
	}
	return &Printer{format: format, writer: w}, nil
}

// PrintID 打印新记录的条目 ID。
func (p *Printer) PrintID(id string) error {
	switch p.format {
	case formatJSON:
		return p.printJSON(map[string]string{"id": id})
	case formatYAML:
		return p.printYAML(map[string]string{"id": id})
	default:
		_, err := fmt.Fprintln(p.writer, id)
		return err
	}
}

// PrintEntry 打印单条错误的详细信息。
func (p *Printer) PrintEntry(entry *domain.ErrorLogEntry) error {
	switch p.format {
	case formatJSON:
		return p.printJSON(entry)
	case formatYAML:
		return p.printYAML(entry)
	case formatXML:
		return p.printXML(entry)
	default:
		return p.printEntryDetail(entry)
	}
}

// entryList 是 list 命令的结构化输出。
type entryList struct {
	Count   int                     `json:"count" yaml:"count"`
	Entries []*domain.ErrorLogEntry `json:"entries" yaml:"entries"`
}

// PrintEntries 打印一页错误。count 是 GetErrors 的返回值。
func (p *Printer) PrintEntries(entries []*domain.ErrorLogEntry, count int) error {
	if entries == nil {
		entries = []*domain.ErrorLogEntry{}
	}
	switch p.format {
	case formatJSON:
		return p.printJSON(entryList{Count: count, Entries: entries})
	case formatYAML:
		return p.printYAML(entryList{Count: count, Entries: entries})
	case formatXML:
		for _, entry := range entries {
			if err := p.printXML(entry); err != nil {
				return err
			}
		}
		return nil
	default:
		if len(entries) == 0 {
			fmt.Fprintln(p.writer, "No errors found.")
			return nil
		}
		if err := p.printEntriesTable(entries); err != nil {
			return err
		}
		_, err := fmt.Fprintf(p.writer, "\n%d error(s), count: %d\n", len(entries), count)
		return err
	}
}

// PrintStreamEntries 打印 tail 发现的新错误，table 格式下每条一行且不带表头。
func (p *Printer) PrintStreamEntries(entries []*domain.ErrorLogEntry) error {
	for _, entry := range entries {
		var err error
		switch p.format {
		case formatJSON:
			err = json.NewEncoder(p.writer).Encode(entry)
		case formatYAML:
			err = p.printYAML(entry)
		case formatXML:
			err = p.printXML(entry)
		default:
			_, err = fmt.Fprintln(p.writer, entryLine(entry))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// PrintEvent 打印 error.logged 事件。
func (p *Printer) PrintEvent(ev *events.ErrorLogged) error {
	switch p.format {
	case formatJSON, formatXML:
		return json.NewEncoder(p.writer).Encode(ev)
	case formatYAML:
		return p.printYAML(ev)
	default:
		_, err := fmt.Fprintf(p.writer, "%s\t%s\t%s\t%s\t%s\n",
			ev.Time.UTC().Format(time.RFC3339), ev.LogID, ev.ID, ev.Type, truncate(ev.Message, 80))
		return err
	}
}

func (p *Printer) printJSON(v interface{}) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) printYAML(v interface{}) error {
	enc := yaml.NewEncoder(p.writer)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (p *Printer) printXML(entry *domain.ErrorLogEntry) error {
	data, err := domain.EncodeErrorXML(entry.Error)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.writer, string(data))
	return err
}

func (p *Printer) printEntriesTable(entries []*domain.ErrorLogEntry) error {
	w := tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tTYPE\tSTATUS\tMESSAGE")
	for _, entry := range entries {
		e := entry.Error
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			entry.ID,
			timeAgo(e.Time),
			e.Type,
			statusCode(e.StatusCode),
			truncate(oneLine(e.Message), 60),
		)
	}
	return w.Flush()
}

func (p *Printer) printEntryDetail(entry *domain.ErrorLogEntry) error {
	e := entry.Error
	fmt.Fprintf(p.writer, "ID:          %s\n", entry.ID)
	fmt.Fprintf(p.writer, "Application: %s\n", orDash(e.ApplicationName))
	fmt.Fprintf(p.writer, "Host:        %s\n", orDash(e.HostName))
	fmt.Fprintf(p.writer, "Type:        %s\n", e.Type)
	fmt.Fprintf(p.writer, "Message:     %s\n", e.Message)
	fmt.Fprintf(p.writer, "Source:      %s\n", orDash(e.Source))
	fmt.Fprintf(p.writer, "User:        %s\n", orDash(e.User))
	fmt.Fprintf(p.writer, "Status:      %s\n", statusCode(e.StatusCode))
	if !e.Time.IsZero() {
		fmt.Fprintf(p.writer, "Time:        %s (%s)\n", e.Time.UTC().Format(time.RFC3339), timeAgo(e.Time))
	}

	printCollection(p.writer, "Server variables", e.ServerVariables)
	printCollection(p.writer, "Query string", e.QueryString)
	printCollection(p.writer, "Form", e.Form)
	printCollection(p.writer, "Cookies", e.Cookies)

	if e.Detail != "" {
		fmt.Fprintf(p.writer, "\nDetail:\n%s\n", e.Detail)
	}
	return nil
}

func printCollection(w io.Writer, title string, c domain.NameValues) {
	if len(c) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, nv := range c {
		fmt.Fprintf(w, "  %s = %s\n", nv.Name, nv.Value)
	}
}

// entryLine 返回一条错误的单行表示
func entryLine(entry *domain.ErrorLogEntry) string {
	e := entry.Error
	ts := "-"
	if !e.Time.IsZero() {
		ts = e.Time.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%s", ts, entry.ID, e.Type, statusCode(e.StatusCode), truncate(oneLine(e.Message), 80))
}

// timeAgo 将时间转换为相对时间字符串。
// 例如："5s ago"、"3m ago"、"2h ago"、"1d ago"
func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	d := time.Since(t)

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// truncate 截断字符串到指定长度。
// 如果字符串超过最大长度，则截断并添加 "..." 后缀。
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func oneLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func statusCode(code int) string {
	if code == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", code)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
