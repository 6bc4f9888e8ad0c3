// Package knowledge implements keyword search over the curated question and
// answer base.
//
// Queries are normalized (lowercased, Spanish diacritics folded) and reduced
// to significant terms by dropping stopwords and words shorter than three
// characters. Candidates where every term appears somewhere in the record are
// fetched from storage, then re-ranked in memory: term hits in the question
// outweigh category hits outweigh answer hits, with bonuses for a full-query
// substring match in the question and an exact category match.
//
// A query with no significant terms returns an empty result rather than
// matching everything.
package knowledge
