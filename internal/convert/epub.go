package convert

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"bookforge/internal/book"
)

// EPUBConverter handles EPUB archives. An EPUB is a zip container: the OPF
// package document declares the manifest and the spine (reading order); each
// spine item is an XHTML chapter.
type EPUBConverter struct{}

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Metadata struct {
		Title string `xml:"title"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

func (c *EPUBConverter) Parse(r io.Reader, title string) (*book.Tree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip container: %v", ErrMalformedDocument, err)
	}

	opfPath, err := findRootfile(zr)
	if err != nil {
		return nil, err
	}
	opfData, err := readZipFile(zr, opfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read package document %s: %v", ErrMalformedDocument, opfPath, err)
	}

	var pkg epubPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, fmt.Errorf("%w: parse package document: %v", ErrMalformedDocument, err)
	}

	tree := &book.Tree{Title: title}
	if t := strings.TrimSpace(pkg.Metadata.Title); t != "" {
		tree.Title = t
	}

	hrefByID := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		hrefByID[item.ID] = item.Href
	}

	if len(pkg.Spine.ItemRefs) == 0 {
		return nil, fmt.Errorf("%w: empty spine", ErrMalformedDocument)
	}

	opfDir := path.Dir(opfPath)
	for _, ref := range pkg.Spine.ItemRefs {
		href, ok := hrefByID[ref.IDRef]
		if !ok {
			return nil, fmt.Errorf("%w: spine references unknown item %q", ErrMalformedDocument, ref.IDRef)
		}
		chapterPath := resolveHref(opfDir, href)
		chapterData, err := readZipFile(zr, chapterPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read spine item %s: %v", ErrMalformedDocument, chapterPath, err)
		}

		doc, err := html.Parse(bytes.NewReader(chapterData))
		if err != nil {
			return nil, fmt.Errorf("%w: parse spine item %s: %v", ErrMalformedDocument, chapterPath, err)
		}
		chapter := treeFromHTML(doc, "")
		tree.Children = append(tree.Children, chapterNodes(chapter, chapterPath)...)
	}

	return tree, nil
}

// chapterNodes lifts one parsed spine document into top-level tree nodes.
// A chapter with headings contributes its heading nodes directly; a chapter
// without headings becomes a single untitled node so the spine order is
// preserved either way.
func chapterNodes(chapter *book.Tree, chapterPath string) []*book.Node {
	if len(chapter.Children) > 0 {
		return chapter.Children
	}
	title := chapter.Title
	if title == "" {
		title = strings.TrimSuffix(path.Base(chapterPath), path.Ext(chapterPath))
	}
	return []*book.Node{{Title: title}}
}

func findRootfile(zr *zip.Reader) (string, error) {
	data, err := readZipFile(zr, "META-INF/container.xml")
	if err == nil {
		var container epubContainer
		if err := xml.Unmarshal(data, &container); err != nil {
			return "", fmt.Errorf("%w: parse container.xml: %v", ErrMalformedDocument, err)
		}
		for _, rf := range container.Rootfiles {
			if rf.FullPath != "" {
				return rf.FullPath, nil
			}
		}
	}
	// Some archives in the wild skip container.xml; fall back to the first
	// .opf entry.
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".opf") {
			return f.Name, nil
		}
	}
	return "", fmt.Errorf("%w: no package document found", ErrMalformedDocument)
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func resolveHref(dir, href string) string {
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	if dir == "." || dir == "" {
		return path.Clean(href)
	}
	return path.Clean(path.Join(dir, href))
}
