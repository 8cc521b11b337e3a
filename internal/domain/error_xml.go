package domain

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// errorXML 是错误 XML 的序列化结构。
// 格式示例：
//
//	<error host="localhost" type="System.ApplicationException" message="..." detail="..." time="2013-07-13T06:16:03.9957581Z">
//	  <serverVariables>
//	    <item name="HTTP_HOST"><value string="example.com" /></item>
//	  </serverVariables>
//	</error>
type errorXML struct {
	XMLName         xml.Name       `xml:"error"`
	Application     string         `xml:"application,attr,omitempty"`
	Host            string         `xml:"host,attr"`
	Type            string         `xml:"type,attr"`
	Message         string         `xml:"message,attr"`
	Source          string         `xml:"source,attr,omitempty"`
	Detail          string         `xml:"detail,attr"`
	User            string         `xml:"user,attr,omitempty"`
	Time            string         `xml:"time,attr"`
	StatusCode      string         `xml:"statusCode,attr,omitempty"`
	ServerVariables *collectionXML `xml:"serverVariables,omitempty"`
	QueryString     *collectionXML `xml:"queryString,omitempty"`
	Form            *collectionXML `xml:"form,omitempty"`
	Cookies         *collectionXML `xml:"cookies,omitempty"`
}

type collectionXML struct {
	Items []itemXML `xml:"item"`
}

type itemXML struct {
	Name  string   `xml:"name,attr"`
	Value valueXML `xml:"value"`
}

type valueXML struct {
	String string `xml:"string,attr"`
}

// EncodeErrorXML 将 Error 序列化为错误 XML。
// 时间统一以 UTC 的 RFC 3339 格式（含小数秒）输出。
func EncodeErrorXML(e *Error) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil error", ErrInvalidErrorXML)
	}

	doc := errorXML{
		Application:     e.ApplicationName,
		Host:            e.HostName,
		Type:            e.Type,
		Message:         e.Message,
		Source:          e.Source,
		Detail:          e.Detail,
		User:            e.User,
		ServerVariables: toCollectionXML(e.ServerVariables),
		QueryString:     toCollectionXML(e.QueryString),
		Form:            toCollectionXML(e.Form),
		Cookies:         toCollectionXML(e.Cookies),
	}
	if !e.Time.IsZero() {
		doc.Time = e.Time.UTC().Format(time.RFC3339Nano)
	}
	if e.StatusCode != 0 {
		doc.StatusCode = strconv.Itoa(e.StatusCode)
	}

	data, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal error xml: %w", err)
	}
	return data, nil
}

// DecodeErrorXML 将错误 XML 解析为 Error。
// 根元素必须为 <error>；time 属性接受任意位数的小数秒。
func DecodeErrorXML(data []byte) (*Error, error) {
	var doc errorXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidErrorXML, err)
	}

	e := &Error{
		ApplicationName: doc.Application,
		HostName:        doc.Host,
		Type:            doc.Type,
		Message:         doc.Message,
		Source:          doc.Source,
		Detail:          doc.Detail,
		User:            doc.User,
		ServerVariables: fromCollectionXML(doc.ServerVariables),
		QueryString:     fromCollectionXML(doc.QueryString),
		Form:            fromCollectionXML(doc.Form),
		Cookies:         fromCollectionXML(doc.Cookies),
	}

	if ts := strings.TrimSpace(doc.Time); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: time %q: %w", ErrInvalidErrorXML, ts, err)
		}
		e.Time = t.UTC()
	}

	if sc := strings.TrimSpace(doc.StatusCode); sc != "" {
		code, err := strconv.Atoi(sc)
		if err != nil {
			return nil, fmt.Errorf("%w: statusCode %q: %w", ErrInvalidErrorXML, sc, err)
		}
		e.StatusCode = code
	}

	return e, nil
}

// DecodeErrorXMLString 是 DecodeErrorXML 的字符串版本。
func DecodeErrorXMLString(s string) (*Error, error) {
	return DecodeErrorXML([]byte(s))
}

func toCollectionXML(c NameValues) *collectionXML {
	if len(c) == 0 {
		return nil
	}
	out := &collectionXML{Items: make([]itemXML, 0, len(c))}
	for _, nv := range c {
		out.Items = append(out.Items, itemXML{Name: nv.Name, Value: valueXML{String: nv.Value}})
	}
	return out
}

func fromCollectionXML(c *collectionXML) NameValues {
	if c == nil || len(c.Items) == 0 {
		return nil
	}
	out := make(NameValues, 0, len(c.Items))
	for _, item := range c.Items {
		out = append(out, NameValue{Name: item.Name, Value: item.Value.String})
	}
	return out
}
