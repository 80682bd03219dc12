// Package tweet renders catalog entries into platform messages. Rendering is a
// pure function of the entry: the template is chosen by hashing the identity
// key, so the same tool always renders the same way.
package tweet

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"kubetools-bot/catalog"
)

// MaxLength is the platform's content-length limit in runes.
const MaxLength = 280

// templates use {name}, {description}, {stars}, {url} and {category_tags}
// placeholders. The description is the only part the length budget may trim.
var templates = []string{
	"🚀 New #Kubernetes tool: {name}\n\n{description}\n\n⭐ {stars} stars\n🔗 {url}\n\n{category_tags} #DevOps #CloudNative",
	"📢 Discover {name} - a new #Kubernetes tool!\n\n✨ {description}\n\n👉 {url}\n⭐ {stars} GitHub stars\n\n{category_tags} #K8s #DevOps",
	"🎯 {name} just joined the #Kubernetes ecosystem!\n\n{description}\n\n🌟 {stars} stars and growing\n📦 {url}\n\n{category_tags} #CloudNative",
	"⚡ Fresh #Kubernetes tool alert: {name}\n\n{description}\n\n✅ {stars} GitHub stars\n🔧 {url}\n\n{category_tags} #DevOps #OpenSource",
	"🛠️ Meet {name}: {description}\n\nPerfect for your #Kubernetes toolkit!\n\n⭐ {stars} stars\n🚀 {url}\n\n{category_tags} #CloudNative #DevOps",
}

// fallbackTemplate has no description at all; used when even a trimmed
// description cannot fit the budget.
const fallbackTemplate = "🚀 New #Kubernetes tool: {name}\n\n⭐ {stars} stars\n🔗 {url}\n\n#DevOps #CloudNative #K8s"

var categoryHashtags = map[string][]string{
	"monitoring":  {"#Monitoring", "#Observability", "#Metrics"},
	"security":    {"#Security", "#DevSecOps", "#K8sSecurity"},
	"networking":  {"#Networking", "#ServiceMesh", "#CNI"},
	"storage":     {"#Storage", "#PersistentVolumes", "#Backup"},
	"development": {"#Development", "#DevTools", "#LocalDev"},
	"debugging":   {"#Debugging", "#Troubleshooting", "#Logging"},
	"deployment":  {"#Deployment", "#Helm", "#GitOps"},
	"cluster":     {"#ClusterManagement", "#Infrastructure"},
	"ai":          {"#AI", "#MLOps", "#MachineLearning"},
	"cicd":        {"#CICD", "#Automation", "#GitOps"},
	"testing":     {"#Testing", "#ChaosEngineering"},
	"cost":        {"#CostOptimization", "#FinOps"},
	"general":     {"#Tools", "#OpenSource"},
}

// Renderer turns entries into display text within the platform limit.
type Renderer struct {
	hashtagCount int
}

// NewRenderer creates a Renderer that appends at most hashtagCount category
// hashtags per message.
func NewRenderer(hashtagCount int) *Renderer {
	if hashtagCount < 1 {
		hashtagCount = 2
	}
	return &Renderer{hashtagCount: hashtagCount}
}

// Render produces the message for an entry. The result never exceeds
// MaxLength runes; only the description is trimmed to fit, never the name or
// the link.
func (r *Renderer) Render(e catalog.Entry) string {
	tpl := templates[hashKey(e.Key)%uint32(len(templates))]
	desc := CleanDescription(e.Description)
	msg := expand(tpl, e, desc, r.hashtags(e.Category))
	if utf8.RuneCountInString(msg) <= MaxLength {
		return msg
	}

	// Over budget: shrink the description to whatever room remains.
	overhead := utf8.RuneCountInString(expand(tpl, e, "", r.hashtags(e.Category)))
	room := MaxLength - overhead
	if room >= 20 {
		return expand(tpl, e, truncate(desc, room), r.hashtags(e.Category))
	}
	return expand(fallbackTemplate, e, "", "")
}

func (r *Renderer) hashtags(category string) string {
	tags, ok := categoryHashtags[strings.ToLower(category)]
	if !ok {
		tags = categoryHashtags["general"]
	}
	if len(tags) > r.hashtagCount {
		tags = tags[:r.hashtagCount]
	}
	return strings.Join(tags, " ")
}

func expand(tpl string, e catalog.Entry, desc, tags string) string {
	return strings.NewReplacer(
		"{name}", e.Name,
		"{description}", desc,
		"{stars}", FormatStars(e.Stars),
		"{url}", e.URL,
		"{category_tags}", tags,
	).Replace(tpl)
}

func hashKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

var (
	urlRe   = regexp.MustCompile(`https?://\S+`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// CleanDescription strips URLs, collapses whitespace and ensures terminal
// punctuation.
func CleanDescription(desc string) string {
	desc = urlRe.ReplaceAllString(desc, "")
	desc = strings.TrimSpace(spaceRe.ReplaceAllString(desc, " "))
	if desc != "" && !strings.ContainsRune(".!?", rune(desc[len(desc)-1])) {
		desc += "."
	}
	return desc
}

// FormatStars renders a star count compactly: 843 stays 843, 1560 becomes
// "1.6k".
func FormatStars(stars int) string {
	if stars >= 1000 {
		return fmt.Sprintf("%.1fk", float64(stars)/1000)
	}
	return fmt.Sprintf("%d", stars)
}

// truncate cuts the description at a word boundary within limit runes,
// appending an ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	limit -= 1 // room for the ellipsis
	runes := []rune(s)
	cut := limit
	for i := limit; i > 0; i-- {
		if runes[i] == ' ' {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}

// WeeklySummary renders a recap message for a week of new entries.
func WeeklySummary(entries []catalog.Entry) string {
	categories := make(map[string]int)
	totalStars := 0
	for _, e := range entries {
		categories[strings.ToLower(e.Category)]++
		totalStars += e.Stars
	}
	top := topCategories(categories, 3)

	var sb strings.Builder
	sb.WriteString("📊 Weekly #Kubernetes tools recap:\n\n")
	fmt.Fprintf(&sb, "🆕 %d new tools added\n", len(entries))
	fmt.Fprintf(&sb, "⭐ %s total GitHub stars\n", FormatStars(totalStars))
	if len(top) > 0 {
		fmt.Fprintf(&sb, "📂 Top categories: %s\n", strings.Join(top, ", "))
	}
	sb.WriteString("\n#DevOps #CloudNative #K8s #OpenSource")
	return sb.String()
}

func topCategories(counts map[string]int, n int) []string {
	type kv struct {
		cat   string
		count int
	}
	var all []kv
	for c, n := range counts {
		all = append(all, kv{c, n})
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].count > all[i].count || (all[j].count == all[i].count && all[j].cat < all[i].cat) {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = titleCase(e.cat)
	}
	return out
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
