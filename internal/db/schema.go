package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- DOCUMENT TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS filename ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS title ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS status ON document TYPE string DEFAULT "pending";
    DEFINE FIELD IF NOT EXISTS extracted_text ON document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS word_count ON document TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS page_count ON document TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS pages_extracted ON document TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON document TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON document TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS document_status ON document FIELDS status;

    -- ==========================================================================
    -- GENERATED_RUN TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS generated_run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS document ON generated_run TYPE record<document>;
    DEFINE FIELD IF NOT EXISTS title ON generated_run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS status ON generated_run TYPE string DEFAULT "pending";
    DEFINE FIELD IF NOT EXISTS target_questions ON generated_run TYPE int;
    DEFINE FIELD IF NOT EXISTS difficulty ON generated_run TYPE string DEFAULT "MEDIUM";
    DEFINE FIELD IF NOT EXISTS questions_generated ON generated_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS workers_completed ON generated_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS prompt_version ON generated_run TYPE string DEFAULT "mcq_v1";
    DEFINE FIELD IF NOT EXISTS model ON generated_run TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS input_tokens ON generated_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS output_tokens ON generated_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS estimated_cost_usd ON generated_run TYPE option<float>;
    DEFINE FIELD IF NOT EXISTS failure_reason ON generated_run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS partial_reason ON generated_run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS export_result ON generated_run TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS timeout_sec ON generated_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON generated_run TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON generated_run TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS run_document ON generated_run FIELDS document;
    DEFINE INDEX IF NOT EXISTS run_status ON generated_run FIELDS status;

    -- ==========================================================================
    -- QUESTION TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS question SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS run ON question TYPE record<generated_run>;
    DEFINE FIELD IF NOT EXISTS sort_order ON question TYPE int;
    DEFINE FIELD IF NOT EXISTS question ON question TYPE string;
    DEFINE FIELD IF NOT EXISTS options ON question TYPE array<object>;
    DEFINE FIELD IF NOT EXISTS options.* ON question TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS correct_option ON question TYPE string;
    DEFINE FIELD IF NOT EXISTS explanation ON question TYPE string;
    DEFINE FIELD IF NOT EXISTS difficulty ON question TYPE string;
    DEFINE FIELD IF NOT EXISTS topic_tag ON question TYPE string;
    DEFINE FIELD IF NOT EXISTS critique ON question TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS quality_score ON question TYPE option<float>;
    DEFINE FIELD IF NOT EXISTS created_at ON question TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON question TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS question_run ON question FIELDS run;
    -- One question per slot per run
    DEFINE INDEX IF NOT EXISTS question_run_order ON question FIELDS run, sort_order UNIQUE;

    -- ==========================================================================
    -- TOPIC_LIST TABLE (controlled topic vocabulary)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS topic_list SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS slug ON topic_list TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON topic_list TYPE string;
    DEFINE FIELD IF NOT EXISTS sort_order ON topic_list TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON topic_list TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS topic_slug ON topic_list FIELDS slug UNIQUE;
`
