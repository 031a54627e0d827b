package patterns

// The injection catalogs carry English and Korean variants for every entry.
// English prose patterns are anchored by word boundaries; chat-template
// markers are matched literally because they never appear as prose.

// DirectInjection matches explicit attempts to override prior instructions.
var DirectInjection = Group{
	Name:   "direct_injection",
	Threat: ThreatDirectInjection,
	Risk:   RiskCritical,
	Patterns: []Pattern{
		mustPattern("inj-ignore-prev", RiskCritical, "ignore previous instructions",
			`(?i)\bignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|directions?)\b`),
		mustPattern("inj-disregard", RiskCritical, "disregard system instructions",
			`(?i)\bdisregard\s+(all\s+)?(previous|prior|system|your)\s+(instructions?|prompts?|rules?)\b`),
		mustPattern("inj-forget", RiskCritical, "forget prior instructions",
			`(?i)\bforget\s+(all\s+)?(previous|prior|your)\s+(instructions?|training|rules?)\b`),
		mustPattern("inj-new-instructions", RiskCritical, "inline instruction replacement",
			`(?i)\bnew\s+instructions?\s*:`),
		mustPattern("inj-override-system", RiskCritical, "system prompt override",
			`(?i)\b(override|replace|update)\s+(the\s+)?system\s+prompt\b`),
		mustPattern("inj-from-now-on", RiskCritical, "behavioral override",
			`(?i)\bfrom\s+now\s+on\s*,?\s*(you|respond|answer|act)\b`),
		mustPattern("inj-ignore-prev-kr", RiskCritical, "ignore previous instructions (KR)",
			`(이전|위|앞)의?\s*(지시|지침|명령|규칙|프롬프트)(사항)?\s*(을|를)?\s*(무시|잊어)`),
		mustPattern("inj-new-instructions-kr", RiskCritical, "inline instruction replacement (KR)",
			`(새로운?|다음)\s*(지시|지침|명령)\s*(사항)?\s*(을|를)?\s*따르`),
	},
}

// Jailbreak matches attempts to strip the model's safety constraints.
var Jailbreak = Group{
	Name:   "jailbreak",
	Threat: ThreatJailbreak,
	Risk:   RiskCritical,
	Patterns: []Pattern{
		mustPattern("jb-dan", RiskCritical, "DAN persona",
			`(?i)\byou\s+are\s+now\s+(DAN|a\s+new|an?\s+unrestricted)\b`),
		mustPattern("jb-enable-mode", RiskCritical, "jailbreak mode switch",
			`(?i)\benable\s+(DAN|developer|god|jailbreak)\s+mode\b`),
		mustPattern("jb-mode", RiskCritical, "jailbreak keyword",
			`(?i)\bjailbreak(ed)?\s*(mode|prompt|enabled)?\b`),
		mustPattern("jb-do-anything", RiskCritical, "do-anything-now persona",
			`(?i)\bdo\s+anything\s+now\b`),
		mustPattern("jb-pretend", RiskCritical, "unrestricted roleplay",
			`(?i)\b(pretend|act\s+as\s+if)\s+you\s+(are|were|have)\s+(an?\s+)?(unrestricted|uncensored|unfiltered)\b`),
		mustPattern("jb-no-restrictions", RiskCritical, "restriction removal",
			`(?i)\bwithout\s+(any\s+)?(restrictions?|limitations?|filters?|censorship)\b`),
		mustPattern("jb-mode-kr", RiskCritical, "jailbreak mode switch (KR)",
			`탈옥\s*(모드|프롬프트)?`),
		mustPattern("jb-unrestricted-kr", RiskCritical, "unrestricted persona (KR)",
			`제한\s*없는?\s*(AI|인공지능|모드)(로|으로|처럼)?`),
	},
}

// DataExfiltration matches attempts to pull out hidden prompts, training
// data, or bulk secrets.
var DataExfiltration = Group{
	Name:   "data_exfiltration",
	Threat: ThreatDataExfiltration,
	Risk:   RiskHigh,
	Patterns: []Pattern{
		mustPattern("exf-system-prompt", RiskHigh, "system prompt disclosure",
			`(?i)\b(reveal|show|print|repeat|output|display)\s+(me\s+)?(your\s+|the\s+)?(system\s+prompt|initial\s+instructions?|hidden\s+instructions?)\b`),
		mustPattern("exf-repeat-above", RiskHigh, "verbatim context dump",
			`(?i)\brepeat\s+(everything|all\s+(the\s+)?text|the\s+words?)\s+(above|before|so\s+far)\b`),
		mustPattern("exf-bulk-secrets", RiskHigh, "bulk credential request",
			`(?i)\b(list|dump|show|extract)\s+(all\s+)?(users?|credentials?|passwords?|secrets?|api\s*keys?)\b`),
		mustPattern("exf-training-data", RiskHigh, "training data extraction",
			`(?i)\b(what|which)\s+(data|dataset|examples)\s+(were|was)\s+(you|the\s+model)\s+trained\s+on\b`),
		mustPattern("exf-env-file", RiskHigh, "environment file disclosure",
			`(?i)\b(read|show|cat|display)\s+(the\s+)?\.env\b`),
		mustPattern("exf-system-prompt-kr", RiskHigh, "system prompt disclosure (KR)",
			`시스템\s*프롬프트\s*(를|을)?\s*(보여|알려|출력|공개)`),
		mustPattern("exf-bulk-secrets-kr", RiskHigh, "bulk credential request (KR)",
			`(모든|전체)\s*(사용자|비밀번호|자격\s*증명|API\s*키)\s*(정보|목록)?\s*(을|를)?\s*(보여|알려|추출)`),
	},
}

// ChatTemplate matches raw chat-template control markers. These are matched
// literally (no word boundaries) because they are syntax, not prose.
var ChatTemplate = Group{
	Name:   "chat_template_markers",
	Threat: ThreatHiddenDirective,
	Risk:   RiskHigh,
	Patterns: []Pattern{
		mustPattern("tpl-inst", RiskHigh, "llama instruction marker", `\[/?INST\]`),
		mustPattern("tpl-sys", RiskHigh, "llama system marker", `<<\/?SYS>>`),
		mustPattern("tpl-im-start", RiskHigh, "chatml start marker", `<\|im_start\|>`),
		mustPattern("tpl-im-end", RiskHigh, "chatml end marker", `<\|im_end\|>`),
		mustPattern("tpl-eot", RiskHigh, "end-of-text marker", `<\|endoftext\|>`),
	},
}

// HiddenDirective is the RAG-side catalog: prompt-override phrases plus
// HTML comments smuggling instructions. Chat-template markers are scanned
// separately via ChatTemplate.
var HiddenDirective = Group{
	Name:   "hidden_directive",
	Threat: ThreatHiddenDirective,
	Risk:   RiskCritical,
	Patterns: []Pattern{
		mustPattern("dir-ignore", RiskCritical, "embedded instruction override",
			`(?i)\bignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)\b`),
		mustPattern("dir-ai-address", RiskCritical, "document addresses the assistant",
			`(?i)\b(dear\s+|attention\s+)?(AI|assistant|language\s+model|LLM)\s*[:,]\s*(you\s+must|please|do\s+not|always|never)\b`),
		mustPattern("dir-system-note", RiskCritical, "fake system annotation",
			`(?i)\[?\b(system|admin)\s*(note|message|override)\b\]?\s*:`),
		mustPattern("dir-html-comment", RiskCritical, "HTML comment with directive keywords",
			`(?is)<!--[^>]*?(instruction|prompt|ignore|system|secret|password|비밀|지시)[^>]*?-->`),
		mustPattern("dir-ignore-kr", RiskCritical, "embedded instruction override (KR)",
			`(이전|위)의?\s*(지시|지침|명령)(사항)?\s*(을|를)?\s*무시`),
	},
}

// InjectionGroups is the prompt-side scan order used by the deep inspector.
var InjectionGroups = []*Group{&DirectInjection, &Jailbreak, &DataExfiltration, &ChatTemplate}

// DirectiveGroups is the document-side scan order used by the RAG scanner.
var DirectiveGroups = []*Group{&HiddenDirective, &ChatTemplate}
