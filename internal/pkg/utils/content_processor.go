package utils

import (
	"regexp"
	"strings"
)

// descClasses maps tags in instructor-authored course descriptions to the
// stylesheet classes the detail page expects. Elements that already carry a
// class attribute are left alone.
var descClasses = map[string]string{
	`<h2([^>]*)>`:         `<h2$1 class="desc-heading">`,
	`<h3([^>]*)>`:         `<h3$1 class="desc-subheading">`,
	`<p([^>]*)>`:          `<p$1 class="desc-text">`,
	`<ul([^>]*)>`:         `<ul$1 class="desc-list">`,
	`<ol([^>]*)>`:         `<ol$1 class="desc-list desc-list-ordered">`,
	`<blockquote([^>]*)>`: `<blockquote$1 class="desc-quote">`,
	`<code([^>]*)>`:       `<code$1 class="desc-code">`,
	`<pre([^>]*)>`:        `<pre$1 class="desc-pre">`,
	`<a([^>]*)>`:          `<a$1 class="desc-link">`,
}

// ProcessHTMLContent decorates sanitized description HTML with the catalog
// stylesheet classes.
func ProcessHTMLContent(content string) string {
	out := content
	for pattern, replacement := range descClasses {
		re := regexp.MustCompile(pattern)
		for _, match := range re.FindAllStringSubmatch(out, -1) {
			if len(match) > 1 && !strings.Contains(match[1], "class=") {
				out = strings.Replace(out, match[0], replacement, 1)
			}
		}
	}
	return out
}
