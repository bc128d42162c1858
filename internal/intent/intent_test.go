package intent

import "testing"

func TestClassifySearchTriggers(t *testing.T) {
	cases := []string{
		"find bubble sort code",
		"show me the config files",
		"search for invoice.pdf",
		"do I have any Python files?",
		"find my meeting notes",
	}
	for _, q := range cases {
		if got := Classify(q); got.Tag != Search {
			t.Errorf("Classify(%q) = %v, want Search", q, got.Tag)
		}
	}
}

func TestClassifyFileExtensionImpliesSearch(t *testing.T) {
	got := Classify("what's in report.docx")
	if got.Tag != Search {
		t.Errorf("Tag = %v, want Search", got.Tag)
	}
}

func TestClassifyMoveTrigger(t *testing.T) {
	got := Classify("move all PDFs to archive")
	if got.Tag != Move {
		t.Errorf("Tag = %v, want Move", got.Tag)
	}
}

func TestClassifyListTrigger(t *testing.T) {
	got := Classify("list files in the reports folder")
	if got.Tag != Search {
		// "list files" is itself a search trigger in the original heuristic.
		t.Errorf("Classify(%q) = %v, want Search", "list files in the reports folder", got.Tag)
	}
}

func TestClassifyChatFallback(t *testing.T) {
	cases := []string{"hello", "how does bubble sort work", "what's the weather"}
	for _, q := range cases {
		if got := Classify(q); got.Tag != Chat {
			t.Errorf("Classify(%q) = %v, want Chat", q, got.Tag)
		}
	}
}

func TestClassifyStripsSearchPrefix(t *testing.T) {
	got := Classify("find the invoice from March")
	if got.Tag != Search {
		t.Fatalf("Tag = %v, want Search", got.Tag)
	}
	if got.Query != "invoice from march" {
		t.Errorf("Query = %q, want prefix stripped", got.Query)
	}
}

func TestDispatcherRoutesSearchAndChat(t *testing.T) {
	d := Dispatcher{
		Search: func(query string) (any, error) { return "searched:" + query, nil },
		Chat:   func(query string) (any, error) { return "chatted:" + query, nil },
	}

	tag, out, err := d.Dispatch("find my resume")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if tag != Search || out != "searched:resume" {
		t.Errorf("tag=%v out=%v", tag, out)
	}

	tag, out, err = d.Dispatch("hello there")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if tag != Chat || out != "chatted:hello there" {
		t.Errorf("tag=%v out=%v", tag, out)
	}
}
