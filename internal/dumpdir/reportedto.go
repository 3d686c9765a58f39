package dumpdir

import (
	"strings"
)

// ReportResult is one parsed reported_to record. Empty fields were absent
// from the journal line.
type ReportResult struct {
	URL string
	Msg string
}

// AddReportedTo appends a line to the reported_to journal unless an
// identical line is already present. Requires the lock.
func (d *Dir) AddReportedTo(line string) error {
	if !d.locked {
		d.log.Error("cannot update journal, directory is not locked", "dir", d.path)
		return ErrNotLocked
	}

	journal, err := d.LoadTextExt(FilenameReportedTo, FailQuietlyENOENT|ReturnNilOnFailure)
	if err != nil {
		return d.SaveText(FilenameReportedTo, line+"\n")
	}
	p := journal
	for len(p) > 0 {
		if strings.HasPrefix(p, line) {
			rest := p[len(line):]
			if rest == "" || rest[0] == '\n' {
				return nil
			}
		}
		i := strings.IndexByte(p, '\n')
		if i < 0 {
			break
		}
		p = p[i+1:]
	}
	if journal != "" && !strings.HasSuffix(journal, "\n") {
		journal += "\n"
	}
	return d.SaveText(FilenameReportedTo, journal+line+"\n")
}

func indexWhitespace(s string) int {
	for i := 0; i < len(s); i++ {
		if isSpaceByte(s[i]) {
			return i
		}
	}
	return len(s)
}

// parseReportedLine splits a journal line into whitespace-separated
// KEY=value tokens. URL= takes one token; MSG= eats the rest of the line
// and ends the scan. Unknown tokens are skipped.
func parseReportedLine(line string) *ReportResult {
	res := &ReportResult{}
	for {
		line = strings.TrimLeft(line, " \t\v\f\r")
		if line == "" {
			break
		}
		end := indexWhitespace(line)
		if strings.HasPrefix(line, "MSG=") {
			res.Msg = line[len("MSG="):]
			break
		}
		if strings.HasPrefix(line, "URL=") {
			res.URL = line[len("URL="):end]
		}
		line = line[end:]
	}
	return res
}

// FindInReportedTo returns the record parsed from the most recent journal
// line starting with prefix, or nil when the journal is missing or no line
// matches.
func (d *Dir) FindInReportedTo(prefix string) *ReportResult {
	journal, err := d.LoadTextExt(FilenameReportedTo, FailQuietlyENOENT|ReturnNilOnFailure)
	if err != nil {
		return nil
	}

	var found string
	var ok bool
	for _, line := range strings.Split(journal, "\n") {
		if strings.HasPrefix(line, prefix) {
			found = line
			ok = true
		}
	}
	if !ok {
		return nil
	}
	return parseReportedLine(found)
}
