package cmd

import "testing"

func TestResetFlagsKeepRootDB(t *testing.T) {
	defer func() {
		resetDB = false
		rootCmd.PersistentFlags().Set("db", "")
	}()

	if err := resetCmd.ParseFlags([]string{"--db", "postgres://other:5432/limblift", "--database"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if !resetDB {
		t.Error("Expected --database to select the database reset")
	}
	if got := rootCmd.PersistentFlags().Lookup("db").Value.String(); got != "postgres://other:5432/limblift" {
		t.Errorf("Root --db = %q, want the connection string", got)
	}
}
