package elastic

import (
	"context"
	"encoding/json"
	"fmt"
)

const docsTemplate = `{
  "index_patterns": [%q],
  "priority": 100,
  "template": {
    "mappings": {
      "properties": {
        "content": {"type": "text"},
        "meta": {"type": "object", "dynamic": true},
        "file": {
          "properties": {
            "filename": {"type": "keyword"},
            "extension": {"type": "keyword"},
            "content_type": {"type": "keyword"},
            "filesize": {"type": "long"},
            "indexed_chars": {"type": "long"},
            "indexing_date": {"type": "date"},
            "last_modified": {"type": "date"},
            "checksum": {"type": "keyword"}
          }
        },
        "path": {
          "properties": {
            "root": {"type": "keyword"},
            "virtual": {"type": "keyword"},
            "real": {"type": "keyword"}
          }
        }
      }
    }
  }
}`

const folderTemplate = `{
  "index_patterns": [%q],
  "priority": 100,
  "template": {
    "mappings": {
      "properties": {
        "name": {"type": "keyword"},
        "path": {
          "properties": {
            "root": {"type": "keyword"},
            "virtual": {"type": "keyword"},
            "real": {"type": "keyword"}
          }
        }
      }
    }
  }
}`

// PushTemplates installs the document and folder templates of a job and
// creates both indices if they do not exist yet.
func (c *Client) PushTemplates(ctx context.Context, index, folderIndex string) error {
	templates := []struct {
		name, index, body string
	}{
		{name: "fscrawl_docs_" + index, index: index, body: fmt.Sprintf(docsTemplate, index)},
		{name: "fscrawl_folders_" + folderIndex, index: folderIndex, body: fmt.Sprintf(folderTemplate, folderIndex)},
	}
	for _, t := range templates {
		if err := c.PutIndexTemplate(ctx, t.name, json.RawMessage(t.body)); err != nil {
			return err
		}
		if err := c.CreateIndex(ctx, t.index, nil, false); err != nil {
			return err
		}
	}
	return nil
}
