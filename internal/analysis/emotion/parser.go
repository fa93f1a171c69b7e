package emotion

import (
	"regexp"
	"strings"
)

// Label 表示角色立绘可以切换的表情标签。
type Label string

const (
	Neutral   Label = "neutral"
	Joy       Label = "joy"
	Shy       Label = "shy"
	Angry     Label = "angry"
	Sad       Label = "sad"
	Surprised Label = "surprised"
)

// Result 是一次解析的结果。
type Result struct {
	Direction string
	Emotion   Label
	Clean     string
}

type bucket struct {
	label    Label
	keywords []string
}

// 顺序即优先级：同一段舞台指示命中多个分类时取靠前的。
var keywordBuckets = []bucket{
	{Shy, []string{
		"수줍", "부끄", "얼굴이 빨개", "볼이 빨개", "머뭇", "쑥스",
		"害羞", "脸红", "羞涩", "blush", "shy", "fidget",
	}},
	{Surprised, []string{
		"놀라", "놀란", "깜짝", "당황", "눈이 커", "헉",
		"惊讶", "吃惊", "愣", "surprise", "gasp", "startle", "shock",
	}},
	{Sad, []string{
		"슬프", "슬픈", "눈물", "울먹", "훌쩍", "한숨", "시무룩", "우울",
		"难过", "伤心", "哭", "叹气", "sad", "tear", "cry", "sigh", "sob",
	}},
	{Angry, []string{
		"화가", "화난", "화를", "짜증", "노려", "찡그", "삐진", "삐져", "발끈",
		"生气", "愤怒", "瞪", "angry", "frown", "glare", "scowl", "pout",
	}},
	{Joy, []string{
		"웃", "미소", "기뻐", "기쁜", "신나", "설레", "행복", "활짝",
		"笑", "开心", "高兴", "smile", "laugh", "grin", "giggle", "happy", "beam",
	}},
}

var (
	// 括号内长度有上限，避免把整段对白误判成舞台指示。
	firstDirection = regexp.MustCompile(`[(（]([^()（）]{1,60}?)[)）]`)
	anyDirection   = regexp.MustCompile(`[(（][^()（）]{0,60}?[)）]`)
	extraSpaces    = regexp.MustCompile(`[ \t]{2,}`)
)

// Parse 提取模型输出开头的舞台指示，分类为表情，并去掉所有括号片段。
func Parse(raw string) Result {
	if strings.TrimSpace(raw) == "" {
		return Result{Emotion: Neutral}
	}

	// 空括号不算舞台指示，但同样要去掉。
	result := Result{Emotion: Neutral, Clean: Strip(raw)}

	match := firstDirection.FindStringSubmatch(raw)
	if match == nil {
		return result
	}

	result.Direction = strings.TrimSpace(match[1])
	result.Emotion = Classify(result.Direction)
	return result
}

// Strip 去掉文本中所有的括号片段，没有括号时原样返回。
func Strip(text string) string {
	if !anyDirection.MatchString(text) {
		return text
	}
	cleaned := anyDirection.ReplaceAllString(text, "")
	lines := strings.Split(cleaned, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(extraSpaces.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Classify 按关键词集合把舞台指示映射到表情标签。
func Classify(direction string) Label {
	normalized := strings.ToLower(strings.TrimSpace(direction))
	if normalized == "" {
		return Neutral
	}
	for _, b := range keywordBuckets {
		for _, word := range b.keywords {
			if strings.Contains(normalized, word) {
				return b.label
			}
		}
	}
	return Neutral
}

// ParseLabel 把模型给出的自由文本标签规范化，无法识别时按关键词再分类一次。
func ParseLabel(raw string) Label {
	normalized := Label(strings.ToLower(strings.TrimSpace(raw)))
	switch normalized {
	case Neutral, Joy, Shy, Angry, Sad, Surprised:
		return normalized
	case "happy", "excited":
		return Joy
	case "embarrassed":
		return Shy
	}
	return Classify(string(normalized))
}
